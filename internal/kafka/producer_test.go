package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// Close and context cancellation race each other during shutdown; both paths
// try to close the inbox and the loser must not panic.
func TestProducerCloseThenCancel(t *testing.T) {
	log := logrus.New()

	for i := 0; i < 500; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewProducer([]string{"127.0.0.1:1"}, log, 8)
		p.Start(ctx)

		p.Close()
		cancel()
		p.WaitClosed()
	}
}

func TestProducerCancelThenClose(t *testing.T) {
	log := logrus.New()

	for i := 0; i < 500; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		p := NewProducer([]string{"127.0.0.1:1"}, log, 8)
		p.Start(ctx)

		cancel()
		p.Close()
		p.WaitClosed()
	}
}

func TestProducerDoubleClose(t *testing.T) {
	log := logrus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProducer([]string{"127.0.0.1:1"}, log, 8)
	p.Start(ctx)

	p.Close()
	p.Close()

	select {
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not shut down")
	case <-func() chan struct{} {
		done := make(chan struct{})
		go func() { p.WaitClosed(); close(done) }()
		return done
	}():
	}
}
