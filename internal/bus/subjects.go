package bus

import "fmt"

// Subjects builds the bus subjects named in spec §6, namespaced per
// deployment (<ns> is typically the environment/cluster identity).
type Subjects struct {
	Namespace string
}

func (s Subjects) IntentPlace(symbol string) string {
	return fmt.Sprintf("%s.cmd.execution.place.v1.%s", s.Namespace, symbol)
}

// IntentPlaceWildcard matches every symbol's intent subject, for Motor's
// single commands-stream subscription.
func (s Subjects) IntentPlaceWildcard() string {
	return fmt.Sprintf("%s.cmd.execution.place.v1.*", s.Namespace)
}

// ExecutionDrift carries shadow/exchange drift findings from the
// reconciler (spec §4.H).
func (s Subjects) ExecutionDrift() string {
	return fmt.Sprintf("%s.evt.execution.drift.v1", s.Namespace)
}

func (s Subjects) SysHalt() string {
	return fmt.Sprintf("%s.cmd.sys.halt.v1", s.Namespace)
}

func (s Subjects) OperatorArm() string {
	return fmt.Sprintf("%s.cmd.operator.arm.v1", s.Namespace)
}

func (s Subjects) OperatorDisarm() string {
	return fmt.Sprintf("%s.cmd.operator.disarm.v1", s.Namespace)
}

// OperatorWildcard matches both operator transition subjects, for Motor's
// single arm/disarm subscription.
func (s Subjects) OperatorWildcard() string {
	return fmt.Sprintf("%s.cmd.operator.*", s.Namespace)
}

func (s Subjects) SysLeader() string {
	return fmt.Sprintf("%s.cmd.sys.leader.v1", s.Namespace)
}

func (s Subjects) ExecutionFill() string {
	return fmt.Sprintf("%s.evt.execution.fill.v1", s.Namespace)
}

func (s Subjects) ExecutionReject() string {
	return fmt.Sprintf("%s.evt.exec.reject.v1", s.Namespace)
}

func (s Subjects) ExecutionState() string {
	return fmt.Sprintf("%s.evt.execution.state.v1", s.Namespace)
}

func (s Subjects) Signal(phase string) string {
	return fmt.Sprintf("%s.evt.signal.%s.v1", s.Namespace, phase)
}

// SignalWildcard matches every phase's signal subject, for a subscriber
// that wants all strategy signals regardless of phase.
func (s Subjects) SignalWildcard() string {
	return fmt.Sprintf("%s.evt.signal.*.v1", s.Namespace)
}

func (s Subjects) PolicyAdvertised() string {
	return fmt.Sprintf("%s.evt.sys.policy_advertised.v1", s.Namespace)
}
