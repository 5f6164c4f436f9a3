package ir

import (
	"fmt"
	"strings"
)

// indexRandomFields walks every client-origin message and records a
// random_fields entry for each Variable
// field that carries a literal value or scope. Constants never enter the
// catalog; Group fields contribute their field_role as a name prefix for
// their children but get no entry of their own.
func indexRandomFields(doc *IR) {
	random := make(map[string]RandomField)

	for msgName := range doc.ClientMessages {
		msg, ok := doc.Messages[msgName]
		if !ok {
			continue
		}
		walkFields(msg.Fields, msgName, "", random)
	}

	doc.Random = random
}

func walkFields(fields []Field, msgName, prefix string, out map[string]RandomField) {
	for _, f := range fields {
		switch f.Kind {
		case KindConstant:
			continue
		case KindGroup:
			walkFields(f.Subfields, msgName, prefix+string(f.FieldRole)+"_", out)
		case KindVariable:
			name := fullyQualifiedName(msgName, prefix, f)

			spec := f.Value
			if f.HasScope {
				spec = f.Scope
			}
			if spec.Single == "" && !spec.IsRange {
				continue
			}

			rf := RandomField{Name: name, Role: f.FieldRole, Type: f.Type, Encoding: f.Encoding}
			if spec.IsRange {
				rf.IsRange = true
				rf.Lo = spec.RangeLo
				rf.Hi = spec.RangeHi
			} else {
				rf.Value = spec.Single
			}
			out[name] = rf
		}
	}
}

// fullyQualifiedName builds "<state>_<ancestor_role_path>_<field_role>_<type>".
func fullyQualifiedName(msgName, prefix string, f Field) string {
	return fmt.Sprintf("%s_%s%s_%s", msgName, prefix, f.FieldRole, f.Type)
}

// FieldsWithPrefix returns every random_fields entry whose key begins with
// "<state>_", used by the synthesizer's materialization pre-pass.
func (doc *IR) FieldsWithPrefix(state string) map[string]RandomField {
	out := make(map[string]RandomField)
	prefix := state + "_"
	for k, v := range doc.Random {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out
}
