package ir

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/fanrarie/ProtoMind/minilog"
)

// xmlDoc mirrors the concrete IR syntax: a root <IR> with repeated
// <message> children and exactly one <statemachine>. Messages
// and states are walked manually (not via struct tags all the way down)
// because field and state children are heterogeneous (constant/variable/
// field, or an arbitrary-named transition), which xml.Unmarshal's static
// struct tags can't express.
type xmlDoc struct {
	XMLName      xml.Name     `xml:"IR"`
	Messages     []xmlElement `xml:"message"`
	StateMachine *xmlElement  `xml:"statemachine"`
}

// xmlElement is a generic XML node: its tag name, attributes, and children,
// captured with xml.Name/Attr so callers can walk arbitrary element shapes
// (message fields, state transitions) without per-shape struct tags.
type xmlElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Children []xmlElement `xml:",any"`
}

func (e *xmlElement) attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (e *xmlElement) attrDefault(name, def string) string {
	if v, ok := e.attr(name); ok {
		return v
	}
	return def
}

// Load parses and validates the IR document at path. It does not consult or
// populate the process-wide cache; use Cache.Load for that.
func Load(path string) (*IR, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return parse(path, f)
}

func parse(path string, r io.Reader) (*IR, error) {
	var doc xmlDoc
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &FormatError{Path: path, Reason: err.Error()}
	}
	if doc.XMLName.Local != "IR" {
		return nil, &FormatError{Path: path, Reason: "root element must be 'IR'"}
	}

	messages := make(map[string]*Message)
	var order []string
	for _, me := range doc.Messages {
		msg, err := parseMessage(path, me)
		if err != nil {
			return nil, err
		}
		if _, dup := messages[msg.Name]; dup {
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("duplicate message: %s", msg.Name)}
		}
		messages[msg.Name] = msg
		order = append(order, msg.Name)
	}
	if len(messages) == 0 {
		return nil, &SemanticError{Path: path, Reason: "no messages defined"}
	}

	if doc.StateMachine == nil {
		return nil, &SemanticError{Path: path, Reason: "no statemachine found"}
	}
	sm, err := parseStateMachine(path, *doc.StateMachine)
	if err != nil {
		return nil, err
	}

	out := &IR{
		SourcePath:   path,
		Messages:     messages,
		MessageOrder: order,
		StateMachine: sm,
	}

	inferRoles(out)
	indexRandomFields(out)
	out.Mandatory = NewMandatoryFields()

	return out, nil
}

func parseMessage(path string, e xmlElement) (*Message, error) {
	name, ok := e.attr("name")
	if !ok || name == "" {
		return nil, &FormatError{Path: path, Reason: "message missing 'name' attribute"}
	}
	role := Role(e.attrDefault("role", string(RoleClient)))

	msg := &Message{Name: name, Role: role}
	for _, child := range e.Children {
		f, err := parseFieldElement(path, name, child)
		if err != nil {
			return nil, err
		}
		msg.Fields = append(msg.Fields, f)
	}
	return msg, nil
}

func parseFieldElement(path, context string, e xmlElement) (Field, error) {
	switch e.XMLName.Local {
	case "constant":
		return parseConstant(e), nil
	case "variable":
		return parseVariable(path, context, e)
	case "field":
		return parseFieldGroup(path, context, e)
	default:
		return Field{}, &FormatError{
			Path:   path,
			Reason: fmt.Sprintf("unknown element in message %s: %s", context, e.XMLName.Local),
		}
	}
}

func parseConstant(e xmlElement) Field {
	length, _ := parseLength(e.attrDefault("length", "1"))
	return Field{
		Kind:      KindConstant,
		Type:      e.attrDefault("type", "B"),
		Length:    length,
		Value:     parseValueSpec(e.attrDefault("value", "0x00")),
		FieldRole: FieldRole(e.attrDefault("field_role", string(RoleField))),
		Encoding:  Encoding(e.attrDefault("encoding", string(EncodingHex))),
	}
}

func parseVariable(path, context string, e xmlElement) (Field, error) {
	lengthAttr := e.attrDefault("length", "1")
	length, err := parseLength(lengthAttr)
	if err != nil {
		return Field{}, &FormatError{Path: path, Reason: fmt.Sprintf("message %s: invalid length %q: %v", context, lengthAttr, err)}
	}

	f := Field{
		Kind:      KindVariable,
		Type:      e.attrDefault("type", "B"),
		Length:    length,
		Value:     parseValueSpec(e.attrDefault("value", "")),
		FieldRole: FieldRole(e.attrDefault("field_role", string(RoleField))),
		Encoding:  Encoding(e.attrDefault("encoding", string(EncodingHex))),
	}
	if scope, ok := e.attr("scope"); ok {
		f.Scope = parseValueSpec(scope)
		f.HasScope = true
	}
	return f, nil
}

func parseFieldGroup(path, context string, e xmlElement) (Field, error) {
	role := e.attrDefault("field_role", string(RoleField))
	f := Field{Kind: KindGroup, FieldRole: FieldRole(role)}
	for _, child := range e.Children {
		sub, err := parseFieldElement(path, context+"."+role, child)
		if err != nil {
			return Field{}, err
		}
		f.Subfields = append(f.Subfields, sub)
	}
	return f, nil
}

func parseStateMachine(path string, e xmlElement) (StateMachine, error) {
	sm := StateMachine{States: make(map[string]*State)}
	for _, stateElem := range e.Children {
		name := normalizeState(stateElem.XMLName.Local)
		if _, dup := sm.States[name]; dup {
			return sm, &FormatError{Path: path, Reason: fmt.Sprintf("duplicate state: %s", name)}
		}

		role := Role(stateElem.attrDefault("role", string(RoleClient)))
		state := &State{Name: name, Role: role}
		for _, t := range stateElem.Children {
			state.Transitions = append(state.Transitions, Transition{
				NextState: normalizeState(t.XMLName.Local),
				Condition: t.attrDefault("condition", ""),
				NextRole:  Role(t.attrDefault("role", string(RoleClient))),
			})
		}
		sm.States[name] = state
	}
	return sm, nil
}

// ProtocolFromPath maps an IR document's file name to the protocol family
// its generator policy should use. It matches on a substring of the base
// name so "mqttIR.xml", "mqtt.xml", and "my-mqtt-device.xml" all resolve to
// "mqtt".
func ProtocolFromPath(path string) (string, error) {
	base := strings.ToLower(filepath.Base(path))
	for _, proto := range []string{"mqtt", "dns", "modbus"} {
		if strings.Contains(base, proto) {
			return proto, nil
		}
	}
	log.Warn("ir: could not infer protocol family from %s", path)
	return "", fmt.Errorf("ir: could not infer protocol family from file name %q", base)
}
