package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultReconcileConfigIsValid(t *testing.T) {
	assert.NoError(t, validateReconcileConfig(DefaultReconcileConfig()))
}

func TestValidateRejectsBadAutoApplyScore(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.AutoApplyScore = 0
	assert.Error(t, validateReconcileConfig(cfg))

	cfg.AutoApplyScore = 101
	assert.Error(t, validateReconcileConfig(cfg))
}

func TestValidateRejectsEmptyThresholds(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.ApprovalThresholds = nil
	assert.Error(t, validateReconcileConfig(cfg))
}

func TestValidateRejectsLevellessRange(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.ApprovalThresholds = []ApprovalThreshold{
		{MinAmount: 0, AutoApprove: false},
	}
	assert.Error(t, validateReconcileConfig(cfg))
}

func TestValidateRejectsBlankRole(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.ApprovalThresholds = []ApprovalThreshold{
		{MinAmount: 0, Levels: []ApprovalLevel{{Role: "  ", Timeout: time.Hour}}},
	}
	assert.Error(t, validateReconcileConfig(cfg))
}

func TestStaticHolderServesFixedConfig(t *testing.T) {
	cfg := DefaultReconcileConfig()
	cfg.AutoApplyScore = 75
	holder := NewStaticReconcileConfigHolder(cfg)
	assert.Equal(t, 75, holder.Get().AutoApplyScore)
}
