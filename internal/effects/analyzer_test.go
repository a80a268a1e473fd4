package effects

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzer_PureFunction(t *testing.T) {
	a := NewAnalyzer()
	es := a.AnalyzeSource(context.Background(), "def f1():\n    return 1\n", "python", "f1")

	assert.True(t, es.IsPure())
	assert.True(t, es.Idempotent)
	assert.Equal(t, 1.0, es.Confidence)
	assert.Equal(t, ProvenanceStatic, es.Provenance)
}

func TestAnalyzer_PrintIsIO(t *testing.T) {
	a := NewAnalyzer()
	es := a.AnalyzeSource(context.Background(), "def f1():\n    print(1)\n    return 1\n", "python", "f1")

	assert.True(t, es.Has(EffectIO))
	assert.False(t, es.IsPure())
	assert.False(t, es.Idempotent)
}

func TestAnalyzer_GlobalMutation(t *testing.T) {
	a := NewAnalyzer()
	src := "def f2():\n    global X\n    X += 1\n    return 2\n"
	es := a.AnalyzeSource(context.Background(), src, "python", "f2")

	assert.True(t, es.Has(EffectGlobalMutation))
	assert.False(t, es.Idempotent)
}

func TestAnalyzer_UppercaseAssignmentIsGlobal(t *testing.T) {
	a := NewAnalyzer()
	es := a.AnalyzeSource(context.Background(), "COUNTER = 5\n", "python", "m")
	assert.True(t, es.Has(EffectGlobalMutation))
}

func TestAnalyzer_CallClassification(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want Effect
	}{
		{"pure builtin", "def f():\n    return len([1])\n", EffectPure},
		{"logging", "def f():\n    logging.info('x')\n", EffectLog},
		{"db read", "def f():\n    return session.query(User)\n", EffectDBRead},
		{"db write", "def f():\n    cursor.execute('DELETE')\n", EffectDBWrite},
		{"network", "def f():\n    requests.post(url)\n", EffectNetwork},
		{"unknown", "def f():\n    mystery()\n", EffectUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer()
			es := a.AnalyzeSource(context.Background(), tt.src, "python", "f")
			if tt.want == EffectPure {
				assert.True(t, es.Has(EffectPure) || es.IsPure(), "got %s", es)
			} else {
				assert.True(t, es.Has(tt.want), "want %s in %s", tt.want, es)
			}
		})
	}
}

func TestAnalyzer_UnknownAttenuatesConfidence(t *testing.T) {
	a := NewAnalyzer()
	es := a.AnalyzeSource(context.Background(), "def f():\n    alpha()\n    beta()\n", "python", "f")

	assert.True(t, es.Has(EffectUnknown))
	assert.InDelta(t, 0.81, es.Confidence, 0.001, "two unknown calls decay 1.0 * 0.9 * 0.9")
}

func TestAnalyzer_NonSelfAttributeWrite(t *testing.T) {
	a := NewAnalyzer()
	es := a.AnalyzeSource(context.Background(), "def f(obj):\n    obj.count += 1\n", "python", "f")
	assert.True(t, es.Has(EffectWriteState))

	// self attribute writes are local instance state, not external.
	es = a.AnalyzeSource(context.Background(), "def f(self):\n    self.count += 1\n", "python", "f")
	assert.False(t, es.Has(EffectWriteState))
}

func TestAnalyzer_GoSource(t *testing.T) {
	a := NewAnalyzer()
	src := "package m\n\nfunc f() {\n\tfmt.Println(1)\n}\n"
	es := a.AnalyzeSource(context.Background(), src, "go", "f")
	assert.True(t, es.Has(EffectIO), "Println classifies as IO, got %s", es)
}

func TestAnalyzer_UnsupportedLanguage(t *testing.T) {
	a := NewAnalyzer()
	es := a.AnalyzeSource(context.Background(), "whatever", "cobol", "f")
	assert.True(t, es.Has(EffectUnknown))
	assert.Equal(t, ProvenanceUnknown, es.Provenance)
}

func TestBatchAnalyze(t *testing.T) {
	changes := map[string]CodePair{
		"f1": {Before: "def f1():\n    return 1\n", After: "def f1():\n    print(1)\n    return 1\n", Language: "python"},
		"f2": {Before: "def f2():\n    return 2\n", After: "def f2():\n    return 3\n", Language: "python"},
	}

	before, after, err := BatchAnalyze(context.Background(), changes)
	require.NoError(t, err)
	require.Len(t, before, 2)
	require.Len(t, after, 2)

	assert.True(t, before["f1"].IsPure())
	assert.True(t, after["f1"].Has(EffectIO))
	assert.True(t, after["f2"].IsPure())
}
