package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/your-org/5g-upf/internal/ruletypes"
)

func TestPutFindRemoveDetectionRule(t *testing.T) {
	var s Session

	assert.True(t, s.PutDetectionRule(ruletypes.DetectionRule{ID: 1, Precedence: 1}))
	assert.True(t, s.PutDetectionRule(ruletypes.DetectionRule{ID: 2, Precedence: 5}))
	assert.Equal(t, 2, s.DetectionRuleCount())

	r := s.FindDetectionRule(2)
	assert.NotNil(t, r)
	assert.EqualValues(t, 5, r.Precedence)

	assert.True(t, s.RemoveDetectionRule(1))
	assert.Equal(t, 1, s.DetectionRuleCount())
	assert.Nil(t, s.FindDetectionRule(1))
	assert.False(t, s.RemoveDetectionRule(99))
}

func TestPutDetectionRule_ReplacesExistingByID(t *testing.T) {
	var s Session
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 1, Precedence: 1})
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 1, Precedence: 9})

	assert.Equal(t, 1, s.DetectionRuleCount())
	assert.EqualValues(t, 9, s.FindDetectionRule(1).Precedence)
}

func TestPutDetectionRule_FullArrayRejectsNewID(t *testing.T) {
	var s Session
	for i := 0; i < ruletypes.MaxRulesPerSession; i++ {
		assert.True(t, s.PutDetectionRule(ruletypes.DetectionRule{ID: uint16(i)}))
	}
	assert.False(t, s.PutDetectionRule(ruletypes.DetectionRule{ID: uint16(ruletypes.MaxRulesPerSession)}))
}

func TestForwardingQoSUsageRules_PutFindRemove(t *testing.T) {
	var s Session

	s.PutForwardingRule(ruletypes.ForwardingRule{ID: 1, Action: ruletypes.ActionForward})
	assert.NotNil(t, s.FindForwardingRule(1))
	assert.True(t, s.RemoveForwardingRule(1))
	assert.Nil(t, s.FindForwardingRule(1))

	s.PutQoSRule(ruletypes.QoSRule{ID: 1, HasMBR: true, MBRUplink: 1000})
	assert.NotNil(t, s.FindQoSRule(1))
	assert.True(t, s.RemoveQoSRule(1))
	assert.Nil(t, s.FindQoSRule(1))

	s.PutUsageRule(ruletypes.UsageRule{ID: 1, HasVolumeQuota: true, VolumeQuota: 1000})
	assert.NotNil(t, s.FindUsageRule(1))
	assert.True(t, s.RemoveUsageRule(1))
	assert.Nil(t, s.FindUsageRule(1))
}

func TestBestDetectionMatch_PrefersHigherPrecedence(t *testing.T) {
	var s Session
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 1, Precedence: 1})
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 2, Precedence: 10})
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 3, Precedence: 5})

	best := s.BestDetectionMatch(func(*ruletypes.DetectionRule) bool { return true })
	assert.EqualValues(t, 2, best.ID)
}

func TestBestDetectionMatch_TiesBreakTowardLowerID(t *testing.T) {
	var s Session
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 5, Precedence: 3})
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 2, Precedence: 3})

	best := s.BestDetectionMatch(func(*ruletypes.DetectionRule) bool { return true })
	assert.EqualValues(t, 2, best.ID)
}

func TestBestDetectionMatch_NoneMatch(t *testing.T) {
	var s Session
	s.PutDetectionRule(ruletypes.DetectionRule{ID: 1, Precedence: 1})
	assert.Nil(t, s.BestDetectionMatch(func(*ruletypes.DetectionRule) bool { return false }))
}
