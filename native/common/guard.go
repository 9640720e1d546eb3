package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// Feature modules that can be paused from configuration.
const (
	ModuleRedemption  = "redemption"
	ModuleStaking     = "staking"
	ModulePooling     = "pooling"
	ModuleCrypto      = "crypto"
	ModuleMarketplace = "marketplace"
	ModuleRewards     = "rewards"
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
