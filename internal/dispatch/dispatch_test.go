package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/meshnode/internal/core"
)

func TestPlanRedirectInbound(t *testing.T) {
	var p Planner

	v := core.Verdict{
		Type: core.VerdictRedirectInbound,
		Port: core.InboundPort,
		Mark: core.InboundMark,
	}

	act := p.Plan(HookWorkloadIngress, v)
	assert.Equal(t, ActionRewrite, act.Kind)
	assert.Equal(t, core.InboundPort, act.DstPort)
	assert.Equal(t, core.InboundMark, act.Mark)
	assert.Equal(t, core.InboundCB, act.CallbackTag)
}

func TestPlanAgentIngressUsesTProxyMark(t *testing.T) {
	var p Planner

	v := core.Verdict{
		Type: core.VerdictRedirectInbound,
		Port: core.InboundPort,
		Mark: core.InboundMark,
	}

	act := p.Plan(HookAgentIngress, v)
	assert.Equal(t, core.TProxyMark, act.Mark)
	assert.Equal(t, core.InboundPort, act.DstPort)
}

func TestPlanRedirectOutbound(t *testing.T) {
	var p Planner

	v := core.Verdict{
		Type: core.VerdictRedirectOutbound,
		Port: core.OutboundPort,
		Mark: core.OutboundMark,
	}

	act := p.Plan(HookWorkloadEgress, v)
	assert.Equal(t, ActionRewrite, act.Kind)
	assert.Equal(t, core.OutboundPort, act.DstPort)
	assert.Equal(t, core.OutboundMark, act.Mark)
	assert.Equal(t, core.OutboundCB, act.CallbackTag)
}

func TestPlanBypassCarriesSentinel(t *testing.T) {
	var p Planner

	act := p.Plan(HookWorkloadEgress, core.Verdict{Type: core.VerdictBypass})
	assert.Equal(t, ActionShortCircuit, act.Kind)
	assert.Equal(t, core.BypassCB, act.CallbackTag)
	assert.Zero(t, act.DstPort)
}

func TestPlanPassAndDrop(t *testing.T) {
	var p Planner

	assert.Equal(t, Action{Kind: ActionPass}, p.Plan(HookSocket, core.Verdict{Type: core.VerdictPass}))
	assert.Equal(t, Action{Kind: ActionDrop}, p.Plan(HookSocket, core.Verdict{Type: core.VerdictDrop}))
}

func TestPlanDNSCaptureFlagPropagates(t *testing.T) {
	var p Planner

	v := core.Verdict{
		Type:       core.VerdictRedirectInbound,
		Port:       core.PlaintextInboundPort,
		Mark:       core.InboundMark,
		CaptureDNS: true,
	}
	act := p.Plan(HookWorkloadEgress, v)
	assert.True(t, act.CaptureDNS)
	assert.Equal(t, core.PlaintextInboundPort, act.DstPort)
}
