package registry

import (
	"sync"
	"testing"
	"time"
)

func TestApplyStateUpdate(t *testing.T) {
	r := New()

	r.ApplyStateUpdate(5, 80)

	u, ok := r.GetUnit(5)
	if !ok {
		t.Fatalf("GetUnit(5) not found after state update")
	}
	if !u.On || u.Level != 80 || !u.Online {
		t.Errorf("unit = %+v, want on level 80 online", u)
	}

	r.ApplyStateUpdate(5, 0)
	u, _ = r.GetUnit(5)
	if u.On || u.Level != 0 {
		t.Errorf("unit after off = %+v", u)
	}
}

func TestUnknownUnitIsCreated(t *testing.T) {
	r := New()
	r.LoadNetwork(Network{
		Name:  "office",
		Units: []Unit{{ID: 1, Name: "ceiling", Capabilities: CapDimmable}},
	})

	// Unit 9 is not in the configuration.
	r.ApplyStateUpdate(9, 50)

	u, ok := r.GetUnit(9)
	if !ok {
		t.Fatalf("unit 9 was not created")
	}
	if u.Capabilities != 0 {
		t.Errorf("created unit capabilities = %d, want default", u.Capabilities)
	}

	units := r.Units()
	if len(units) != 2 || units[0].ID != 1 || units[1].ID != 9 {
		t.Errorf("Units() = %+v", units)
	}
}

func TestLoadNetworkPreservesLiveState(t *testing.T) {
	r := New()
	r.ApplyStateUpdate(3, 42)

	r.LoadNetwork(Network{Units: []Unit{{ID: 3, Name: "spot", Capabilities: CapDimmable}}})

	u, _ := r.GetUnit(3)
	if u.Name != "spot" || u.Capabilities != CapDimmable {
		t.Errorf("configuration not applied: %+v", u)
	}
	if !u.On || u.Level != 42 {
		t.Errorf("live state lost on configuration load: %+v", u)
	}
}

func TestSnapshotsAreCopies(t *testing.T) {
	r := New()
	r.ApplyStateUpdate(1, 10)

	u, _ := r.GetUnit(1)
	u.Level = 99

	again, _ := r.GetUnit(1)
	if again.Level != 10 {
		t.Errorf("registry state mutated through snapshot")
	}
}

func TestSubscribeOrderingPerUnit(t *testing.T) {
	r := New()

	var mu sync.Mutex
	var got []uint8
	done := make(chan struct{})

	unsubscribe := r.Subscribe(func(u Unit) {
		mu.Lock()
		got = append(got, u.Level)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	})
	defer unsubscribe()

	r.ApplyStateUpdate(5, 10)
	r.ApplyStateUpdate(5, 20)
	r.ApplyStateUpdate(5, 30)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for notifications, got %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Errorf("updates out of order: %v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := New()

	delivered := make(chan Unit, 8)
	unsubscribe := r.Subscribe(func(u Unit) { delivered <- u })

	r.ApplyStateUpdate(1, 10)
	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatalf("no delivery before unsubscribe")
	}

	unsubscribe()
	unsubscribe() // calling twice must be safe

	r.ApplyStateUpdate(1, 20)
	select {
	case u := <-delivered:
		t.Errorf("delivery after unsubscribe: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMarkAllOffline(t *testing.T) {
	r := New()
	r.ApplyStateUpdate(1, 10)
	r.ApplyStateUpdate(2, 20)

	r.MarkAllOffline()

	wantLevels := map[uint8]uint8{1: 10, 2: 20}
	for id, level := range wantLevels {
		u, _ := r.GetUnit(id)
		if u.Online {
			t.Errorf("unit %d still online", id)
		}
		// State is retained, only reachability changes.
		if !u.On || u.Level != level {
			t.Errorf("unit %d state lost: %+v", id, u)
		}
	}
}

func TestSlowListenerDoesNotBlockWriter(t *testing.T) {
	r := New()

	block := make(chan struct{})
	unsubscribe := r.Subscribe(func(Unit) { <-block })
	defer unsubscribe()
	defer close(block)

	done := make(chan struct{})
	go func() {
		// Far more updates than the queue holds.
		for i := 0; i < listenerQueueSize*2; i++ {
			r.ApplyStateUpdate(1, uint8(i%100))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("writer blocked by slow listener")
	}
}

func TestGroupsAndScenes(t *testing.T) {
	r := New()
	r.LoadNetwork(Network{
		Groups: []Group{{ID: 2, Name: "hall"}, {ID: 1, Name: "desk", Units: []uint8{1, 2}}},
		Scenes: []Scene{{ID: 7, Name: "evening"}},
	})

	groups := r.Groups()
	if len(groups) != 2 || groups[0].ID != 1 || groups[1].ID != 2 {
		t.Errorf("Groups() = %+v", groups)
	}
	scenes := r.Scenes()
	if len(scenes) != 1 || scenes[0].Name != "evening" {
		t.Errorf("Scenes() = %+v", scenes)
	}
}
