package rule

import (
	"encoding/json"
	"fmt"
)

// Stored rules carry their condition tree and action as JSON. Each
// node is wrapped in an envelope with a "type" discriminator so the
// sealed unions round-trip without reflection tricks.

type conditionEnvelope struct {
	Type string `json:"type"`

	// Tags / AddTags / RemoveTags
	Terms []string `json:"terms,omitempty"`

	// Rating
	Service  string   `json:"service,omitempty"`
	RatingOp RatingOp `json:"rating_op,omitempty"`
	Value    *int     `json:"value,omitempty"`

	// FileService
	ServiceOp FileServiceOp `json:"service_op,omitempty"`

	// FileSize
	SizeOp SizeOp   `json:"size_op,omitempty"`
	Size   *float64 `json:"size,omitempty"`
	Unit   SizeUnit `json:"unit,omitempty"`

	// Boolean
	Flag      BoolFlag `json:"flag,omitempty"`
	BoolValue *bool    `json:"bool_value,omitempty"`

	// URL
	Subtype URLSubtype   `json:"subtype,omitempty"`
	Kind    URLMatchKind `json:"kind,omitempty"`
	Op      string       `json:"op,omitempty"`
	Text    string       `json:"text,omitempty"`
	Count   *int         `json:"count,omitempty"`

	// FileType
	TypeOp FileTypeOp `json:"type_op,omitempty"`
	Values []string   `json:"values,omitempty"`

	// Limit
	Limit *int `json:"limit,omitempty"`

	// OrGroup
	Conditions []conditionEnvelope `json:"conditions,omitempty"`

	// RawPredicateBlock
	Raw string `json:"raw,omitempty"`
}

// Condition type discriminators.
const (
	condTags        = "tags"
	condRating      = "rating"
	condFileService = "file_service"
	condFileSize    = "file_size"
	condBoolean     = "boolean"
	condURL         = "url"
	condFileType    = "file_type"
	condLimit       = "limit"
	condOrGroup     = "or_group"
	condRaw         = "raw_predicates"
)

func encodeCondition(c Condition) (conditionEnvelope, error) {
	switch v := c.(type) {
	case Tags:
		return conditionEnvelope{Type: condTags, Terms: v.Terms}, nil
	case Rating:
		val := v.Value
		return conditionEnvelope{Type: condRating, Service: v.Service, RatingOp: v.Op, Value: &val}, nil
	case FileService:
		return conditionEnvelope{Type: condFileService, Service: v.Service, ServiceOp: v.Op}, nil
	case FileSize:
		size := v.Value
		return conditionEnvelope{Type: condFileSize, SizeOp: v.Op, Size: &size, Unit: v.Unit}, nil
	case Boolean:
		b := v.Value
		return conditionEnvelope{Type: condBoolean, Flag: v.Flag, BoolValue: &b}, nil
	case URL:
		n := v.Count
		return conditionEnvelope{Type: condURL, Subtype: v.Subtype, Kind: v.Kind, Op: v.Op, Text: v.Value, Count: &n}, nil
	case FileType:
		return conditionEnvelope{Type: condFileType, TypeOp: v.Op, Values: v.Values}, nil
	case Limit:
		n := v.Value
		return conditionEnvelope{Type: condLimit, Limit: &n}, nil
	case OrGroup:
		children := make([]conditionEnvelope, 0, len(v.Conditions))
		for i, child := range v.Conditions {
			env, err := encodeCondition(child)
			if err != nil {
				return conditionEnvelope{}, fmt.Errorf("or_group[%d]: %w", i, err)
			}
			children = append(children, env)
		}
		return conditionEnvelope{Type: condOrGroup, Conditions: children}, nil
	case RawPredicateBlock:
		return conditionEnvelope{Type: condRaw, Raw: v.Text}, nil
	default:
		return conditionEnvelope{}, fmt.Errorf("unknown condition type %T", c)
	}
}

func decodeCondition(env conditionEnvelope) (Condition, error) {
	switch env.Type {
	case condTags:
		return Tags{Terms: env.Terms}, nil
	case condRating:
		c := Rating{Service: env.Service, Op: env.RatingOp}
		if env.Value != nil {
			c.Value = *env.Value
		}
		return c, nil
	case condFileService:
		return FileService{Service: env.Service, Op: env.ServiceOp}, nil
	case condFileSize:
		c := FileSize{Op: env.SizeOp, Unit: env.Unit}
		if env.Size != nil {
			c.Value = *env.Size
		}
		return c, nil
	case condBoolean:
		c := Boolean{Flag: env.Flag}
		if env.BoolValue != nil {
			c.Value = *env.BoolValue
		}
		return c, nil
	case condURL:
		c := URL{Subtype: env.Subtype, Kind: env.Kind, Op: env.Op, Value: env.Text}
		if env.Count != nil {
			c.Count = *env.Count
		}
		return c, nil
	case condFileType:
		return FileType{Op: env.TypeOp, Values: env.Values}, nil
	case condLimit:
		c := Limit{}
		if env.Limit != nil {
			c.Value = *env.Limit
		}
		return c, nil
	case condOrGroup:
		children := make([]Condition, 0, len(env.Conditions))
		for i, childEnv := range env.Conditions {
			child, err := decodeCondition(childEnv)
			if err != nil {
				return nil, fmt.Errorf("or_group[%d]: %w", i, err)
			}
			children = append(children, child)
		}
		return OrGroup{Conditions: children}, nil
	case condRaw:
		return RawPredicateBlock{Text: env.Raw}, nil
	default:
		return nil, fmt.Errorf("unknown condition type %q", env.Type)
	}
}

// EncodeConditions serializes a condition list for storage.
func EncodeConditions(conds []Condition) ([]byte, error) {
	envs := make([]conditionEnvelope, 0, len(conds))
	for i, c := range conds {
		env, err := encodeCondition(c)
		if err != nil {
			return nil, fmt.Errorf("condition[%d]: %w", i, err)
		}
		envs = append(envs, env)
	}
	return json.Marshal(envs)
}

// DecodeConditions deserializes a stored condition list.
// Returns an empty (non-nil) slice for an empty document.
func DecodeConditions(data []byte) ([]Condition, error) {
	var envs []conditionEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("decode conditions: %w", err)
	}
	conds := make([]Condition, 0, len(envs))
	for i, env := range envs {
		c, err := decodeCondition(env)
		if err != nil {
			return nil, fmt.Errorf("condition[%d]: %w", i, err)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

type actionEnvelope struct {
	Type         string       `json:"type"`
	Destinations []string     `json:"destinations,omitempty"`
	Service      string       `json:"service,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	Value        *RatingValue `json:"value,omitempty"`
}

// Action type discriminators.
const (
	actionAddTo        = "add_to"
	actionForceIn      = "force_in"
	actionAddTags      = "add_tags"
	actionRemoveTags   = "remove_tags"
	actionModifyRating = "modify_rating"
	actionArchive      = "archive_file"
)

// ActionType returns the stable discriminator for a, used in storage,
// logs and CLI output.
func ActionType(a Action) string {
	switch a.(type) {
	case AddTo:
		return actionAddTo
	case ForceIn:
		return actionForceIn
	case AddTags:
		return actionAddTags
	case RemoveTags:
		return actionRemoveTags
	case ModifyRating:
		return actionModifyRating
	case ArchiveFile:
		return actionArchive
	default:
		return ""
	}
}

// EncodeAction serializes an action for storage.
func EncodeAction(a Action) ([]byte, error) {
	var env actionEnvelope
	switch v := a.(type) {
	case AddTo:
		env = actionEnvelope{Type: actionAddTo, Destinations: v.Destinations}
	case ForceIn:
		env = actionEnvelope{Type: actionForceIn, Destinations: v.Destinations}
	case AddTags:
		env = actionEnvelope{Type: actionAddTags, Service: v.Service, Tags: v.Tags}
	case RemoveTags:
		env = actionEnvelope{Type: actionRemoveTags, Service: v.Service, Tags: v.Tags}
	case ModifyRating:
		val := v.Value
		env = actionEnvelope{Type: actionModifyRating, Service: v.Service, Value: &val}
	case ArchiveFile:
		env = actionEnvelope{Type: actionArchive}
	default:
		return nil, fmt.Errorf("unknown action type %T", a)
	}
	return json.Marshal(env)
}

// DecodeAction deserializes a stored action.
func DecodeAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode action: %w", err)
	}
	switch env.Type {
	case actionAddTo:
		return AddTo{Destinations: env.Destinations}, nil
	case actionForceIn:
		return ForceIn{Destinations: env.Destinations}, nil
	case actionAddTags:
		return AddTags{Service: env.Service, Tags: env.Tags}, nil
	case actionRemoveTags:
		return RemoveTags{Service: env.Service, Tags: env.Tags}, nil
	case actionModifyRating:
		a := ModifyRating{Service: env.Service}
		if env.Value != nil {
			a.Value = *env.Value
		}
		return a, nil
	case actionArchive:
		return ArchiveFile{}, nil
	default:
		return nil, fmt.Errorf("unknown action type %q", env.Type)
	}
}
