package config

import (
	"context"

	auth "github.com/evprediag/go-station-auth"
	"github.com/goliatone/go-featuregate/gate"
)

// StaticGate answers feature checks from the loaded FeaturesConfig. Unknown
// keys are enabled.
type StaticGate struct {
	flags map[string]bool
}

var _ gate.FeatureGate = (*StaticGate)(nil)

func (f FeaturesConfig) Gate() *StaticGate {
	return &StaticGate{flags: map[string]bool{
		gate.FeatureUsersSignup:         f.Signup,
		auth.FeatureStationRegistration: f.StationRegistration,
	}}
}

func (g *StaticGate) Enabled(_ context.Context, key string, _ ...gate.ResolveOption) (bool, error) {
	enabled, ok := g.flags[key]
	if !ok {
		return true, nil
	}
	return enabled, nil
}
