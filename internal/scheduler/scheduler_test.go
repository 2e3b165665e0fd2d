package scheduler

import "testing"

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a cron expr", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}
