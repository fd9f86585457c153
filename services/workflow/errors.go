package workflow

import (
	"errors"
	"fmt"
)

// ErrNoStartNode is returned when every node has an incoming connection.
var ErrNoStartNode = errors.New("workflow has no start node")

// HandlerNotFoundError is returned when a node's type has no registered handler.
type HandlerNotFoundError struct {
	Type string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for node type %q", e.Type)
}

// MissingParameterError is returned when a node lacks a required data field.
type MissingParameterError struct {
	NodeID string
	Param  string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("node %s: missing required parameter %q", e.NodeID, e.Param)
}

// InvalidParameterError is returned when a node data field has an unusable value.
type InvalidParameterError struct {
	NodeID string
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("node %s: invalid parameter %q: %s", e.NodeID, e.Param, e.Reason)
}

// UnsupportedOperatorError is returned by condition nodes for an unknown operator.
type UnsupportedOperatorError struct {
	Operator string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator %q", e.Operator)
}

// GraphError is returned when a workflow graph fails shape validation.
type GraphError struct {
	Reason string
}

func (e *GraphError) Error() string {
	return "invalid workflow graph: " + e.Reason
}

func errMissing(nodeID, param string) error {
	return &MissingParameterError{NodeID: nodeID, Param: param}
}

func errInvalid(nodeID, param, reason string) error {
	return &InvalidParameterError{NodeID: nodeID, Param: param, Reason: reason}
}
