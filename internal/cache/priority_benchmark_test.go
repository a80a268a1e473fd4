package cache

import (
	"fmt"
	"testing"
)

func BenchmarkPriorityCache_Get(b *testing.B) {
	c := NewPriorityCache(1000, 64*1024*1024, 0.001)
	for i := 0; i < 1000; i++ {
		c.Set(fmt.Sprintf("k%04d", i), i, 1024)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(fmt.Sprintf("k%04d", i%1000))
	}
}

func BenchmarkPriorityCache_SetWithEviction(b *testing.B) {
	c := NewPriorityCache(100, 1024*1024, 0.001)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, 4096)
	}
}

func BenchmarkHashContent(b *testing.B) {
	content := make([]byte, 16*1024)
	for i := range content {
		content[i] = byte(i)
	}
	b.SetBytes(int64(len(content)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		HashContent(content)
	}
}
