package compiler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCondition(t *testing.T) {
	assert.NoError(t, ValidateCondition(`amount > 10 && status == "open"`))
	assert.NoError(t, ValidateCondition(`approved`))
	assert.Error(t, ValidateCondition(`amount >`))
	assert.Error(t, ValidateCondition(`(`))
}

func TestConditionsEvaluate(t *testing.T) {
	c := NewConditions()

	tests := []struct {
		name     string
		expr     string
		vars     map[string]any
		expected bool
	}{
		{"empty is true", "", nil, true},
		{"literal", "true", nil, true},
		{"comparison", "amount > 10", map[string]any{"amount": 42}, true},
		{"comparison false", "amount > 100", map[string]any{"amount": 42}, false},
		{"string equality", `status == "open"`, map[string]any{"status": "open"}, true},
		{"nested field", `customer.tier == "gold"`, map[string]any{
			"customer": map[string]any{"tier": "gold"},
		}, true},
		{"bool variable", "approved", map[string]any{"approved": false}, false},
		{"bool variable true", "approved", map[string]any{"approved": true}, true},
		{"parenthesized variable", "(approved)", map[string]any{"approved": true}, true},
		{"negated variable", "!approved", map[string]any{"approved": false}, true},
		{"unset variable is false", "approved", map[string]any{}, false},
		{"unset variable in comparison", "missing > 1", map[string]any{"amount": 1}, false},
		{"unset nested field", `customer.tier == "gold"`, map[string]any{
			"customer": map[string]any{},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Evaluate(tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestConditionsEvaluateErrors(t *testing.T) {
	c := NewConditions()

	_, err := c.Evaluate("amount + 1", map[string]any{"amount": 1})
	assert.Error(t, err, "non-boolean result")

	_, err = c.Evaluate("flag", map[string]any{"flag": "yes"})
	assert.Error(t, err, "non-boolean variable")

	_, err = c.Evaluate("amount >", map[string]any{"amount": 1})
	assert.Error(t, err, "syntax error")
}

func TestConditionsConcurrent(t *testing.T) {
	c := NewConditions()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got, err := c.Evaluate("n >= 0", map[string]any{"n": n})
			assert.NoError(t, err)
			assert.True(t, got)
		}(i)
	}
	wg.Wait()
}
