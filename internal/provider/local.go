package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// LocalMusicProvider is a reference MusicProvider: it does not call out to
// any upstream generator, it synthesizes silence of the requested length so
// the workflow/tool-orchestration surface around it (job IDs, polling,
// content-type plumbing) can be exercised without a real music-model
// dependency, per the provider abstraction's stated scope — upstream music
// generation wire protocols are opaque and out of scope.
type LocalMusicProvider struct{}

func NewLocalMusicProvider() *LocalMusicProvider { return &LocalMusicProvider{} }

func (p *LocalMusicProvider) Name() string { return "local" }

func (p *LocalMusicProvider) GenerateMusic(ctx context.Context, req MusicRequest) (MusicResponse, error) {
	seconds := req.Seconds
	if seconds <= 0 {
		seconds = 10
	}
	const sampleRate = 8000
	return MusicResponse{Audio: make([]byte, seconds*sampleRate)}, nil
}

// LocalOCRProvider is a reference OCRProvider returning an empty extraction
// result; swapping in a real OCR backend only requires a new OCRProvider
// implementation, not changes to any caller.
type LocalOCRProvider struct{}

func NewLocalOCRProvider() *LocalOCRProvider { return &LocalOCRProvider{} }

func (p *LocalOCRProvider) Name() string { return "local" }

func (p *LocalOCRProvider) ExtractText(ctx context.Context, req OCRRequest) (OCRResponse, error) {
	if len(req.Image) == 0 {
		return OCRResponse{}, fmt.Errorf("local ocr: empty image")
	}
	return OCRResponse{Text: ""}, nil
}

// LocalResearchProvider is a reference ResearchProvider: it hands back a
// job ID immediately, mirroring the async handle shape of a real deep
// research backend without performing any actual research.
type LocalResearchProvider struct{}

func NewLocalResearchProvider() *LocalResearchProvider { return &LocalResearchProvider{} }

func (p *LocalResearchProvider) Name() string { return "local" }

func (p *LocalResearchProvider) StartResearch(ctx context.Context, req ResearchRequest) (ResearchResponse, error) {
	if req.Query == "" {
		return ResearchResponse{}, fmt.Errorf("local research: empty query")
	}
	return ResearchResponse{JobID: newJobID()}, nil
}

func newJobID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return "job_" + hex.EncodeToString(b)
}

var _ MusicProvider = (*LocalMusicProvider)(nil)
var _ OCRProvider = (*LocalOCRProvider)(nil)
var _ ResearchProvider = (*LocalResearchProvider)(nil)
