package metrics

import "fmt"

// DuplicateMetricError is returned when a descriptor name is registered twice.
type DuplicateMetricError struct {
	Name string
}

func (e DuplicateMetricError) Error() string {
	return fmt.Sprintf("metric %q already registered", e.Name)
}

// UnknownMetricError is returned when an instrument is requested by an unregistered name.
type UnknownMetricError struct {
	Name string
}

func (e UnknownMetricError) Error() string {
	return fmt.Sprintf("metric %q is not registered", e.Name)
}

// KindMismatchError is returned when a name is requested as the wrong instrument kind.
type KindMismatchError struct {
	Name string
	Want Kind
	Got  Kind
}

func (e KindMismatchError) Error() string {
	return fmt.Sprintf("metric %q is a %s, not a %s", e.Name, e.Got, e.Want)
}

// LabelArityError is returned when the number of label values does not match the descriptor.
type LabelArityError struct {
	Name string
	Want int
	Got  int
}

func (e LabelArityError) Error() string {
	return fmt.Sprintf("metric %q expects %d label values, got %d", e.Name, e.Want, e.Got)
}

// InvalidValueError is returned for writes that would break an instrument's semantics,
// such as a negative counter increment.
type InvalidValueError struct {
	Name   string
	Value  float64
	Reason string
}

func (e InvalidValueError) Error() string {
	return fmt.Sprintf("metric %q: invalid value %v: %s", e.Name, e.Value, e.Reason)
}

// InvalidDescriptorError is returned by Register for malformed descriptors.
type InvalidDescriptorError struct {
	Name   string
	Reason string
}

func (e InvalidDescriptorError) Error() string {
	return fmt.Sprintf("invalid descriptor %q: %s", e.Name, e.Reason)
}
