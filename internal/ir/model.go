// Copyright 2016-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

// Package ir is the in-memory representation of a protocol IR document: its
// messages, field layouts, and client/server state machine. It also derives
// the catalogs (mandatory fields, randomizable fields) a host needs to drive
// a fuzzing session.
package ir

// InitState is the reserved pseudo-state that is the entry point of the
// driver loop. It is never a client or server message. Authors may also
// spell it "INIT"; the parser normalizes both to this form.
const InitState = "INIT_STATE"

// legacyInitState is the alternate spelling some author IRs use.
const legacyInitState = "INIT"

// Role distinguishes which side of a conversation originates a message.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// FieldKind distinguishes the three Field variants.
type FieldKind int

const (
	KindConstant FieldKind = iota
	KindVariable
	KindGroup
)

// FieldRole tags a field with its semantic position. Field-role-keyed
// dispatch tables in internal/synth and internal/identify switch on this
// type rather than on raw strings.
type FieldRole string

const (
	RoleRemainingLength     FieldRole = "remaining_length"
	RoleTopicName           FieldRole = "topic_name"
	RoleTopicLength         FieldRole = "topic_length"
	RoleTopicFilter         FieldRole = "topic_filter"
	RoleTopicFilterLength   FieldRole = "topic_filter_length"
	RoleClientID            FieldRole = "client_id"
	RoleClientIDLength      FieldRole = "client_id_length"
	RolePacketID            FieldRole = "packet_id"
	RoleKeepAlive           FieldRole = "keep_alive"
	RoleConnectFlags        FieldRole = "connect_flags"
	RoleSlaveID             FieldRole = "slave_id"
	RoleFunctionCode        FieldRole = "function_code"
	RoleAddress             FieldRole = "address"
	RoleCoilAddress         FieldRole = "coil_address"
	RoleRegisterAddress     FieldRole = "register_address"
	RoleQuantity            FieldRole = "quantity"
	RoleCoilValue           FieldRole = "coil_value"
	RoleCRC                 FieldRole = "crc"
	RoleQueryDomain         FieldRole = "query_domain"
	RolePayload             FieldRole = "payload"
	RoleProtected           FieldRole = "protected"
	RoleField               FieldRole = "field" // unlabelled, the default
)

// Encoding selects how a field's literal value is turned into bytes.
type Encoding string

const (
	EncodingHex      Encoding = "hex"
	EncodingASCII    Encoding = "ascii"
	EncodingDNSName  Encoding = "dns-name"
	EncodingOptional Encoding = "optional"
)

// Length is either a fixed count or an inclusive [Min, Max] range, as written
// "N" or "min:max" in an IR document.
type Length struct {
	Fixed    int
	IsRange  bool
	Min, Max int
}

// Resolve returns the length to use: Fixed when not a range, otherwise a
// caller-supplied draw from [Min, Max]. A nil draw picks Min, the
// deterministic non-fuzz choice.
func (l Length) Resolve(draw func(lo, hi int) int) int {
	if !l.IsRange {
		return l.Fixed
	}
	if draw == nil {
		return l.Min
	}
	return draw(l.Min, l.Max)
}

// ValueSpec is a field's literal "value" or "scope" attribute: either a
// single token or an inclusive range between two tokens (written with a
// hyphen in the field's base, e.g. "0x10-0xFF").
type ValueSpec struct {
	IsRange bool
	Single  string
	RangeLo string
	RangeHi string
}

// Field is one unit of a message's wire layout: fixed bytes, bytes filled
// at synthesis time, or a structural group of subfields.
type Field struct {
	Kind      FieldKind
	Type      string // "B", "b", "H", ...
	Length    Length
	Value     ValueSpec
	Scope     ValueSpec
	HasScope  bool
	FieldRole FieldRole
	Encoding  Encoding

	// Subfields is populated only for KindGroup.
	Subfields []Field
}

// Message is a single named protocol message: a client request or a server
// reply, laid out as an ordered sequence of fields.
type Message struct {
	Name   string
	Role   Role
	Fields []Field
}

// Transition is one edge out of a state machine state.
type Transition struct {
	NextState string
	Condition string
	NextRole  Role
}

// State is one node of the state machine: a message name plus its declared
// role and its outgoing transitions.
type State struct {
	Name        string
	Role        Role
	Transitions []Transition
}

// StateMachine is the parsed <statemachine> element: a map from state name
// to its definition. Messages and states are cross-referenced by name, not
// by pointer, so there is no ownership cycle between them.
type StateMachine struct {
	States map[string]*State
}

// MandatoryFields is the always-present catalog of inputs a host must supply
// before a session can run.
type MandatoryFields struct {
	TextFields   map[string][]string
	SelectFields map[string][]string
}

// NewMandatoryFields returns the fixed three/one catalog every IR exposes.
func NewMandatoryFields() MandatoryFields {
	return MandatoryFields{
		TextFields: map[string][]string{
			"target_ip":   {},
			"target_port": {},
			"serial_port": {},
		},
		SelectFields: map[string][]string{
			"protocol": {"tcp", "udp", "serial"},
		},
	}
}

// RandomField is one entry of the random_fields catalog derived by the field
// indexer: a fully-qualified field name mapped to either a
// single literal value or a range, plus its type and encoding.
type RandomField struct {
	Name     string
	Role     FieldRole
	Type     string
	Encoding Encoding
	IsRange  bool
	Value    string // set when !IsRange
	Lo, Hi   string // set when IsRange, in the field's base (hex/binary/decimal)
}

// IR is the fully parsed and indexed protocol description.
type IR struct {
	SourcePath string

	Messages map[string]*Message
	// MessageOrder holds message names in document order, for consumers
	// that need a stable iteration (message identification tries candidates
	// in the order the author declared them).
	MessageOrder []string
	StateMachine StateMachine

	ClientMessages map[string]bool
	ServerMessages map[string]bool

	Mandatory MandatoryFields
	Random    map[string]RandomField
}

// normalizeState maps the legacy "INIT" spelling to the canonical
// InitState so downstream components never need to special-case both.
func normalizeState(name string) string {
	if name == legacyInitState {
		return InitState
	}
	return name
}
