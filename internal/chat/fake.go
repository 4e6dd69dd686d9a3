package chat

import "context"

// FakeProvider is a scripted provider for tests.
type FakeProvider struct {
	ProviderName string
	Reply        string
	Vector       []float32
	Err          error

	Completions []Request
	Embeds      []EmbedRequest
}

func (f *FakeProvider) Name() string { return f.ProviderName }

func (f *FakeProvider) Models() []string { return []string{"fake-model"} }

func (f *FakeProvider) Complete(_ context.Context, req Request) (*Response, error) {
	f.Completions = append(f.Completions, req)
	if f.Err != nil {
		return nil, f.Err
	}
	return &Response{
		ID:       "cmpl_fake",
		Provider: f.ProviderName,
		Model:    req.Model,
		Content:  f.Reply,
	}, nil
}

func (f *FakeProvider) Embed(_ context.Context, req EmbedRequest) (*EmbedResponse, error) {
	f.Embeds = append(f.Embeds, req)
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([][]float32, len(req.Input))
	for i := range req.Input {
		out[i] = f.Vector
	}
	return &EmbedResponse{Provider: f.ProviderName, Model: req.Model, Embeddings: out}, nil
}
