package main

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/reconciler"
	"github.com/mbisonn/holistic-payment-bounceback-sub000/internal/scheduler"
)

// backgroundProducers are the loops that feed work into the engine without a
// caller: scheduled triggers and orphan adoption. Either may be nil.
type backgroundProducers struct {
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (p *backgroundProducers) empty() bool {
	return p.scheduler == nil && p.reconciler == nil
}

// Start runs the producers until ctx is cancelled or Stop is called.
func (p *backgroundProducers) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)

	if p.scheduler != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if err := p.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("automationd: scheduler error: %v", err)
			}
		}()
	}
	if p.reconciler != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.reconciler.Run(ctx)
		}()
	}
	log.Printf("automationd: background producers started (scheduler=%t, reconciler=%t)", p.scheduler != nil, p.reconciler != nil)
}

// Stop cancels the producers and waits for them. Safe to call when not started.
func (p *backgroundProducers) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	p.wg.Wait()
	log.Println("automationd: background producers stopped")
}
