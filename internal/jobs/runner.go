// Package jobs runs assignment batches detached from the request that
// triggered them. A run gets its own context and scope: cancelling or
// losing the HTTP request never aborts an in-flight batch.
package jobs

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"ecollect/internal/assign"
	"ecollect/internal/model"
	"ecollect/internal/notify"
	"ecollect/internal/store"

	"github.com/google/uuid"
)

// Assigner is the synchronous engine the runner drives; *assign.Engine
// satisfies it.
type Assigner interface {
	AssignBatch(ctx context.Context, req model.AssignmentRequest, progress assign.ProgressFunc) (*model.AssignmentResult, error)
	RefineDistances(ctx context.Context, details []model.AssignmentDetail)
}

// Publisher mirrors job progress onto live event topics.
type Publisher interface {
	Publish(topic string, kind string, data map[string]any)
}

// Runner owns the lifecycle of background assignment jobs.
type Runner struct {
	Store    store.Store
	Engine   Assigner
	Notifier notify.Notifier
	Events   Publisher // optional

	// RunTimeout bounds one batch end to end; zero means 10 minutes.
	RunTimeout time.Duration
}

// StartAssignment records a job and launches the batch in the background,
// returning immediately with the job id. userID receives the outcome
// notification.
func (r *Runner) StartAssignment(ctx context.Context, req model.AssignmentRequest, userID string) (model.Job, error) {
	job := model.Job{
		ID:     uuid.NewString(),
		Status: model.JobRunning,
		UserID: userID,
	}
	if err := r.Store.CreateJob(ctx, job); err != nil {
		return model.Job{}, fmt.Errorf("create job: %w", err)
	}
	go r.run(job, req)
	return job, nil
}

func (r *Runner) run(job model.Job, req model.AssignmentRequest) {
	timeout := r.RunTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	// deliberately not derived from the request context
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("jobs: assignment %s panicked: %v\n%s", job.ID, rec, debug.Stack())
			r.finish(job, nil, fmt.Errorf("internal error: %v", rec))
		}
	}()

	r.publish(job.ID, "started", map[string]any{"itemCount": len(req.ItemIDs)})

	res, err := r.Engine.AssignBatch(ctx, req, func(done, total int) {
		r.publish(job.ID, "progress", map[string]any{"done": done, "total": total})
	})
	r.finish(job, res, err)
	if err != nil {
		return
	}

	// Road-distance refinement runs after the batch is visible; it only
	// polishes stored distances, so it gets its own detached context too.
	go func() {
		rctx, rcancel := context.WithTimeout(context.Background(), timeout)
		defer rcancel()
		r.Engine.RefineDistances(rctx, res.Details)
		r.publish(job.ID, "refined", map[string]any{"count": res.AssignedCount})
	}()
}

// finish runs on its own context: when the batch died because the run
// context expired, the job row update and the failure notification must
// still go through.
func (r *Runner) finish(job model.Job, res *model.AssignmentResult, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	job.FinishedAt = &now
	if err != nil {
		job.Status = model.JobFailed
		job.Error = err.Error()
	} else {
		job.Status = model.JobCompleted
		job.Result = res
	}
	if uerr := r.Store.UpdateJob(ctx, job); uerr != nil {
		log.Printf("jobs: update %s failed: %v", job.ID, uerr)
	}

	if err != nil {
		r.publish(job.ID, "failed", map[string]any{"error": err.Error()})
		r.notifier().Send(ctx, job.UserID, "Assignment failed",
			err.Error(), "assignment.failed", map[string]any{"jobId": job.ID})
		return
	}

	r.publish(job.ID, "completed", map[string]any{
		"assigned":   res.AssignedCount,
		"unassigned": res.UnassignedCount,
	})
	r.notifier().Send(ctx, job.UserID, "Assignment completed",
		fmt.Sprintf("%d items assigned, %d left unassigned", res.AssignedCount, res.UnassignedCount),
		"assignment.completed", map[string]any{"jobId": job.ID})
	r.notifyWarehouses(ctx, res.Warehouses)
}

// notifyWarehouses tells each receiving point's admin how many items are
// inbound. Unresolvable points are logged and skipped.
func (r *Runner) notifyWarehouses(ctx context.Context, whs []model.WarehouseAllocation) {
	for _, w := range whs {
		pt, err := r.Store.GetPoint(ctx, w.PointID)
		if err != nil {
			log.Printf("jobs: warehouse notification skipped, point %s: %v", w.PointID, err)
			continue
		}
		if pt.AdminUserID == "" {
			continue
		}
		r.notifier().Send(ctx, pt.AdminUserID, "Incoming items",
			fmt.Sprintf("%d items assigned to %s", w.Count, pt.Name),
			"assignment.incoming", map[string]any{"pointId": w.PointID, "count": w.Count})
	}
}

func (r *Runner) notifier() notify.Notifier {
	if r.Notifier != nil {
		return r.Notifier
	}
	return notify.Discard{}
}

func (r *Runner) publish(jobID, kind string, data map[string]any) {
	if r.Events == nil {
		return
	}
	r.Events.Publish("job:"+jobID, kind, data)
}
