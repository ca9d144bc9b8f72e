package dag

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCycle(t *testing.T) {
	tests := []struct {
		name  string
		graph map[string][]string
		want  bool
	}{
		{
			name:  "empty graph",
			graph: map[string][]string{},
			want:  false,
		},
		{
			name:  "single node no deps",
			graph: map[string][]string{"a": {}},
			want:  false,
		},
		{
			name:  "self loop",
			graph: map[string][]string{"a": {"a"}},
			want:  true,
		},
		{
			name:  "linear chain",
			graph: map[string][]string{"c": {"b"}, "b": {"a"}},
			want:  false,
		},
		{
			name:  "two node cycle",
			graph: map[string][]string{"a": {"b"}, "b": {"a"}},
			want:  true,
		},
		{
			name:  "diamond is acyclic",
			graph: map[string][]string{"d": {"b", "c"}, "b": {"a"}, "c": {"a"}},
			want:  false,
		},
		{
			name:  "cycle in one of two components",
			graph: map[string][]string{"a": {"b"}, "x": {"y"}, "y": {"z"}, "z": {"x"}},
			want:  true,
		},
		{
			name:  "dependency on node absent from key set",
			graph: map[string][]string{"a": {"ghost"}},
			want:  false,
		},
		{
			name:  "long cycle through chain",
			graph: map[string][]string{"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"a"}},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasCycle(tt.graph))
		})
	}
}

// TestHasCycle_DeepChain exercises the explicit-stack walk with a chain
// far deeper than a comfortable recursion depth.
func TestHasCycle_DeepChain(t *testing.T) {
	const depth = 200_000
	graph := make(map[string][]string, depth)
	for i := 1; i < depth; i++ {
		graph[fmt.Sprintf("n%d", i)] = []string{fmt.Sprintf("n%d", i-1)}
	}
	assert.False(t, HasCycle(graph))

	// Closing the chain into a ring must flip the verdict.
	graph["n0"] = []string{fmt.Sprintf("n%d", depth-1)}
	assert.True(t, HasCycle(graph))
}
