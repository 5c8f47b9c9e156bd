package handlers

import (
	"fmt"
	"time"

	"github.com/cuemby/ec2-spot-converter/pkg/types"
)

// DeregisterFromTargetGroups issues a deregister call for every recorded
// target. Gated on check-targetgroups being enabled.
func DeregisterFromTargetGroups(ctx *Context) types.HandlerResult {
	for _, t := range ctx.Record.ELBTargets {
		if err := ctx.LoadBalancer.DeregisterTarget(t.TargetGroupARN, ctx.Config.InstanceID, t.Port); err != nil {
			return fail(fmt.Sprintf("deregister %s from %s: %s", ctx.Config.InstanceID, t.TargetGroupARN, err))
		}
	}
	return ok(fmt.Sprintf("deregistered from %d target groups", len(ctx.Record.ELBTargets)), nil)
}

// DrainELBTargetGroups polls each deregistered target until it reports
// "unused", up to 100 attempts every 10s.
func DrainELBTargetGroups(ctx *Context) types.HandlerResult {
	for _, t := range ctx.Record.ELBTargets {
		t := t
		err := pollUntil("drain-elb-target-groups", 100, 10*time.Second, nil, func(attempt int) (bool, error) {
			state, err := ctx.LoadBalancer.DescribeTargetHealth(t.TargetGroupARN, ctx.Config.InstanceID)
			if err != nil {
				return false, err
			}
			return state == "unused", nil
		})
		if err != nil {
			return fail(err.Error())
		}
	}
	return ok("all target groups drained", nil)
}

// RegisterToELBTargetGroups re-registers every recorded target on the new
// instance.
func RegisterToELBTargetGroups(ctx *Context) types.HandlerResult {
	for _, t := range ctx.Record.ELBTargets {
		if err := ctx.LoadBalancer.RegisterTarget(t.TargetGroupARN, ctx.Record.NewInstanceId, t.Port); err != nil {
			return fail(fmt.Sprintf("register %s in %s: %s", ctx.Record.NewInstanceId, t.TargetGroupARN, err))
		}
	}
	return ok(fmt.Sprintf("registered to %d target groups", len(ctx.Record.ELBTargets)), nil)
}

// WaitTargetGroups polls until each target reaches one of the configured
// acceptable end-states.
func WaitTargetGroups(ctx *Context) types.HandlerResult {
	acceptable := ctx.Config.WaitForTGStates
	if len(acceptable) == 0 {
		acceptable = []string{"unused", "healthy"}
	}
	for _, t := range ctx.Record.ELBTargets {
		t := t
		err := pollUntil("wait-target-groups", 100, 10*time.Second, nil, func(attempt int) (bool, error) {
			state, err := ctx.LoadBalancer.DescribeTargetHealth(t.TargetGroupARN, ctx.Record.NewInstanceId)
			if err != nil {
				return false, err
			}
			for _, accept := range acceptable {
				if state == accept {
					return true, nil
				}
			}
			return false, nil
		})
		if err != nil {
			return fail(err.Error())
		}
	}
	return ok("all target groups reached an acceptable state", nil)
}
