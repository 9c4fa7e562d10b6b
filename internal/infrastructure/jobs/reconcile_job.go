package jobs

import (
	"context"
	"log"
	"time"

	"dotpay.backend/internal/domain/entities"
	"dotpay.backend/internal/usecases"
)

// ReconcileJob periodically sweeps stuck mpesa_processing transactions. An
// interval of 0 disables the job (the internal endpoint remains available).
type ReconcileJob struct {
	reconciler *usecases.ReconcileUsecase
	interval   time.Duration
	stop       chan struct{}
}

func NewReconcileJob(reconciler *usecases.ReconcileUsecase, intervalMinutes int) *ReconcileJob {
	return &ReconcileJob{
		reconciler: reconciler,
		interval:   time.Duration(intervalMinutes) * time.Minute,
		stop:       make(chan struct{}),
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		log.Println("🕐 Reconcile job disabled (interval 0)")
		return
	}
	log.Println("🕐 Starting reconcile job...")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⏹️ Reconcile job stopped (context cancelled)")
			return
		case <-j.stop:
			log.Println("⏹️ Reconcile job stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stop)
}

func (j *ReconcileJob) sweep(ctx context.Context) {
	result, err := j.reconciler.Run(ctx, entities.ReconcileInput{})
	if err != nil {
		log.Printf("❌ Reconcile sweep failed: %v", err)
		return
	}
	if result.Scanned == 0 {
		return
	}
	log.Printf("🔄 Reconcile sweep: scanned=%d markedFailed=%d refunded=%d queried=%d queryErrors=%d",
		result.Scanned, result.MarkedFailed, result.Refunded, result.Queried, result.QueryErrors)
}
