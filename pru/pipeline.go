package pru

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Pipeline bundles the shared state and both cores of one PRU-ICSS.
type Pipeline struct {
	Geometry Geometry
	Fabric   *Fabric
	Region   *Region
	Capture  *CaptureCore
	Transfer *TransferCore
}

// PipelineConfig holds the parameters of [NewPipeline].
type PipelineConfig struct {
	Geometry Geometry
	Slots    int
	Policy   OverrunPolicy
	Bus      PixelBus
	Memory   Memory
	Options  []CoreOption
}

// NewPipeline validates the geometry and wires a fabric, region, ring and
// both cores together.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	ring, err := NewChunkRing(cfg.Slots, cfg.Geometry.ChunkSize, cfg.Policy)
	if err != nil {
		return nil, err
	}

	f := NewFabric()
	r := NewRegion(ring)
	return &Pipeline{
		Geometry: cfg.Geometry,
		Fabric:   f,
		Region:   r,
		Capture:  NewCaptureCore(cfg.Geometry, f, r, cfg.Bus, cfg.Options...),
		Transfer: NewTransferCore(cfg.Geometry, f, r, cfg.Memory, cfg.Options...),
	}, nil
}

// Run runs both cores until ctx is done or one of them fails. The transfer
// core is started first, matching the firmware load order. A plain
// shutdown returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Transfer.Run(ctx) })
	g.Go(func() error { return p.Capture.Run(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
