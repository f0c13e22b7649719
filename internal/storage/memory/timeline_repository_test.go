package memory_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ams/internal/domain"
	"github.com/vladislavdragonenkov/ams/internal/storage/memory"
)

func TestTimelineRepository_AppendList(t *testing.T) {
	repo := memory.NewTimelineRepository()
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Добавляем вне хронологического порядка.
	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: "order.completed", Occurred: base.Add(2 * time.Minute)},
		{OrderID: "order-1", Type: "order.created", Occurred: base},
		{OrderID: "order-1", Type: "order.processing", Occurred: base.Add(time.Minute)},
		{OrderID: "order-2", Type: "order.created", Occurred: base},
	}
	for _, event := range events {
		if err := repo.Append(event); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	list, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 events, got %d", len(list))
	}

	// Хронологический порядок.
	want := []string{"order.created", "order.processing", "order.completed"}
	for i, event := range list {
		if event.Type != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], event.Type)
		}
	}
}

func TestTimelineRepository_ListUnknownOrder(t *testing.T) {
	repo := memory.NewTimelineRepository()

	list, err := repo.List("missing")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no events, got %d", len(list))
	}
}
