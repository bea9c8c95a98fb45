package provider

import "fmt"

// GetChatProvider resolves a ChatProvider by name, falling back to the
// registry's resolution rule; env/user context is folded into
// ResolveOptions/MetricsContext by the caller before invoking Complete/Stream.
func GetChatProvider(r *Registry, opts ResolveOptions) (ChatProvider, error) {
	p, ok := r.GetChatProvider(opts)
	if !ok {
		return nil, fmt.Errorf("provider: no chat provider available")
	}
	return p, nil
}

// GetImageProvider resolves an ImageProvider by name, falling back to the
// capability's registered default.
func GetImageProvider(r *Registry, name string) (ImageProvider, error) {
	if name == "" {
		name = r.defaults.image
	}
	p, ok := r.image[name]
	if !ok {
		return nil, fmt.Errorf("provider: no image provider registered for %q", name)
	}
	return p, nil
}

// GetSpeechProvider resolves a SpeechProvider by name, falling back to the
// capability's registered default.
func GetSpeechProvider(r *Registry, name string) (SpeechProvider, error) {
	if name == "" {
		name = r.defaults.speech
	}
	p, ok := r.speech[name]
	if !ok {
		return nil, fmt.Errorf("provider: no speech provider registered for %q", name)
	}
	return p, nil
}

// GetMusicProvider resolves a MusicProvider by name, falling back to the
// capability's registered default.
func GetMusicProvider(r *Registry, name string) (MusicProvider, error) {
	if name == "" {
		name = r.defaults.music
	}
	p, ok := r.music[name]
	if !ok {
		return nil, fmt.Errorf("provider: no music provider registered for %q", name)
	}
	return p, nil
}

// GetVideoProvider resolves a VideoProvider by name, falling back to the
// capability's registered default.
func GetVideoProvider(r *Registry, name string) (VideoProvider, error) {
	if name == "" {
		name = r.defaults.video
	}
	p, ok := r.video[name]
	if !ok {
		return nil, fmt.Errorf("provider: no video provider registered for %q", name)
	}
	return p, nil
}

// GetOCRProvider resolves an OCRProvider by name, falling back to the
// capability's registered default.
func GetOCRProvider(r *Registry, name string) (OCRProvider, error) {
	if name == "" {
		name = r.defaults.ocr
	}
	p, ok := r.ocr[name]
	if !ok {
		return nil, fmt.Errorf("provider: no OCR provider registered for %q", name)
	}
	return p, nil
}

// GetEmbeddingProvider resolves an EmbeddingProvider by name, falling back
// to the capability's registered default.
func GetEmbeddingProvider(r *Registry, name string) (EmbeddingProvider, error) {
	if name == "" {
		name = r.defaults.embedding
	}
	p, ok := r.embedding[name]
	if !ok {
		return nil, fmt.Errorf("provider: no embedding provider registered for %q", name)
	}
	return p, nil
}

// GetResearchProvider resolves a ResearchProvider by name, falling back to
// the capability's registered default.
func GetResearchProvider(r *Registry, name string) (ResearchProvider, error) {
	if name == "" {
		name = r.defaults.research
	}
	p, ok := r.research[name]
	if !ok {
		return nil, fmt.Errorf("provider: no research provider registered for %q", name)
	}
	return p, nil
}
