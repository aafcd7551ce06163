package db

import (
	"context"
	"testing"

	apperrors "github.com/svgtranslate/svgbatch/internal/errors"
)

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	store := NewJobStore(NewTestExecutor(t))
	ctx := context.Background()

	id, err := store.Create(ctx, "crop_main_files")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d", id)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != JobPending || job.StartedAt != nil || job.CompletedAt != nil {
		t.Errorf("fresh job = %+v", job)
	}

	if err := store.UpdateStatus(ctx, id, "crop_main_files", JobRunning, "job_1_crop_main_files.json"); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	job, err = store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get running: %v", err)
	}
	if job.Status != JobRunning || job.StartedAt == nil {
		t.Errorf("running job = %+v", job)
	}
	if job.ResultFile != "job_1_crop_main_files.json" {
		t.Errorf("result_file = %q", job.ResultFile)
	}

	if err := store.UpdateStatus(ctx, id, "crop_main_files", JobCompleted, ""); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	job, err = store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	if job.Status != JobCompleted || job.CompletedAt == nil {
		t.Errorf("completed job = %+v", job)
	}
	// Empty result pointer preserves the stored one.
	if job.ResultFile != "job_1_crop_main_files.json" {
		t.Errorf("result_file after terminal = %q", job.ResultFile)
	}

	// Re-applying the same terminal status is a harmless no-op.
	if err := store.UpdateStatus(ctx, id, "crop_main_files", JobCompleted, ""); err != nil {
		t.Fatalf("repeat terminal: %v", err)
	}
}

func TestJobUpdateKeyedByType(t *testing.T) {
	t.Parallel()

	store := NewJobStore(NewTestExecutor(t))
	ctx := context.Background()

	id, err := store.Create(ctx, "download_main_files")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Wrong job_type must not match the row.
	err = store.UpdateStatus(ctx, id, "crop_main_files", JobRunning, "")
	be := apperrors.AsBatchError(err)
	if be == nil || be.Code != apperrors.CodeJobNotFound {
		t.Fatalf("err = %v, want job not-found", err)
	}

	job, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != JobPending {
		t.Errorf("status mutated by mismatched type: %q", job.Status)
	}
}

func TestJobUpdateMissing(t *testing.T) {
	t.Parallel()

	store := NewJobStore(NewTestExecutor(t))
	ctx := context.Background()

	err := store.UpdateStatus(ctx, 424242, "repair_main_files", JobFailed, "")
	be := apperrors.AsBatchError(err)
	if be == nil || be.Code != apperrors.CodeJobNotFound {
		t.Errorf("err = %v, want job not-found", err)
	}

	if err := store.UpdateStatus(ctx, 1, "repair_main_files", "bogus", ""); err == nil {
		t.Error("expected rejection of unknown status")
	}
}

func TestJobList(t *testing.T) {
	t.Parallel()

	store := NewJobStore(NewTestExecutor(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Create(ctx, "collect_main_files"); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	jobs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].ID < jobs[1].ID {
		t.Errorf("not newest-first: %d before %d", jobs[0].ID, jobs[1].ID)
	}
}

func TestJobListByType(t *testing.T) {
	t.Parallel()

	store := NewJobStore(NewTestExecutor(t))
	ctx := context.Background()

	for _, jt := range []string{"collect_main_files", "crop_main_files", "collect_main_files"} {
		if _, err := store.Create(ctx, jt); err != nil {
			t.Fatalf("create %s: %v", jt, err)
		}
	}

	jobs, err := store.ListByType(ctx, "collect_main_files", 10)
	if err != nil {
		t.Fatalf("list by type: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.Type != "collect_main_files" {
			t.Errorf("unexpected type %s", j.Type)
		}
	}
}

func TestJobDelete(t *testing.T) {
	t.Parallel()

	store := NewJobStore(NewTestExecutor(t))
	ctx := context.Background()

	id, err := store.Create(ctx, "crop_main_files")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, id); err == nil {
		t.Error("job still present after delete")
	}
	if err := store.Delete(ctx, id); err == nil {
		t.Error("expected not-found on second delete")
	}
}
