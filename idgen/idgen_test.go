package idgen

import (
	"regexp"
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	id := New()

	// 12 bytes of base32 encode to 20 characters without padding
	expectedLen := 20
	if len(id) != expectedLen {
		t.Errorf("Expected ID length to be %d, got %d", expectedLen, len(id))
	}

	pattern := `^[a-z2-7]+$`
	matched, err := regexp.MatchString(pattern, id)
	if err != nil {
		t.Fatalf("Error matching regex: %v", err)
	}
	if !matched {
		t.Errorf("ID format does not match expected pattern: %s", id)
	}
}

func TestUniqueness(t *testing.T) {
	const count = 10000
	seen := make(map[string]bool, count)

	for i := 0; i < count; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("Duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestConcurrentGeneration(t *testing.T) {
	const goroutines = 16
	const perGoroutine = 500

	var mu sync.Mutex
	seen := make(map[string]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]string, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids = append(ids, New())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if seen[id] {
					t.Errorf("Duplicate ID generated concurrently: %s", id)
				}
				seen[id] = true
			}
		}()
	}
	wg.Wait()
}
