package ocr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service holds the loaded model and serves requests against it.
// It is safe for concurrent use as long as the generator is.
type Service struct {
	gen      Generator
	resolver *ImageResolver
	log      *zap.SugaredLogger
}

// NewService loads gen once. A load failure is fatal for the worker.
func NewService(ctx context.Context, gen Generator, resolver *ImageResolver, log *zap.SugaredLogger) (*Service, error) {
	if gen == nil {
		return nil, errors.New("ocr: generator is nil")
	}
	if resolver == nil {
		resolver = NewImageResolver(0, 0)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	log.Infof("Loading GLM-OCR... (backend=%s model=%s)", gen.Name(), gen.GetModel())
	start := time.Now()
	if err := gen.Load(ctx); err != nil {
		return nil, fmt.Errorf("load %s model %q: %w", gen.Name(), gen.GetModel(), err)
	}
	log.Infof("GLM-OCR loaded. (%s)", time.Since(start).Round(time.Millisecond))

	return &Service{gen: gen, resolver: resolver, log: log}, nil
}

func (s *Service) Backend() string { return s.gen.Name() }

func (s *Service) Model() string { return s.gen.GetModel() }

// Close releases backend resources, if the backend holds any.
func (s *Service) Close() error {
	if c, ok := s.gen.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Handle maps one request to exactly one of {output} or {error}.
func (s *Service) Handle(ctx context.Context, req Request) Response {
	text, err := s.Run(ctx, req)
	if err != nil {
		return Failure(err)
	}
	return Success(text)
}

// HandleEvent decodes a raw {"input": ...} envelope and handles it.
func (s *Service) HandleEvent(ctx context.Context, raw []byte) Response {
	req, err := ParseEvent(raw)
	if err != nil {
		return Failure(err)
	}
	return s.Handle(ctx, req)
}

// Run returns the generated text or an *Error of kind KindImageLoad / KindInference.
func (s *Service) Run(ctx context.Context, req Request) (string, error) {
	img, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return "", imageLoadError(err)
	}
	if err := firstErr(req.promptErr, req.budgetErr); err != nil {
		return "", inferenceError(err)
	}
	if req.MaxNewTokens < 0 {
		return "", inferenceError(fmt.Errorf("max_new_tokens must be >= 0, got %d", req.MaxNewTokens))
	}
	if req.MaxNewTokens == 0 {
		return "", nil
	}

	text, err := s.generate(ctx, Prompt{Text: req.Prompt, Image: img, MaxNewTokens: req.MaxNewTokens})
	if err != nil {
		return "", inferenceError(err)
	}
	return text, nil
}

func (s *Service) generate(ctx context.Context, p Prompt) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Errorw("generator panic", "backend", s.gen.Name(), "panic", rec)
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	start := time.Now()
	text, err = s.gen.Generate(ctx, p)
	s.log.Debugw("generation finished",
		"backend", s.gen.Name(),
		"image", DescribeImage(p.Image),
		"max_new_tokens", p.MaxNewTokens,
		"elapsed", time.Since(start),
		"ok", err == nil,
	)
	return text, err
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
