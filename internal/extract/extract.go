package extract

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const UnknownClass = "UNKNOWN"

// The key lists below are evaluated in order and the first match wins.
var (
	// ClassKeys are probed for the element class.
	ClassKeys = []string{"type", "Type", "IfcType", "EntityType", "Name"}

	// ContainerKeys hold property groups, either as an array of named groups
	// or as a map of group name to group. Only the first container with a
	// recognized shape is used.
	ContainerKeys = []string{"psets", "Psets", "propertySets", "PropertySets", "property_sets", "IsDefinedBy"}

	// GroupNameKeys name a property group inside an array container.
	GroupNameKeys = []string{"Name", "name"}

	// GroupPropertyKeys hold the properties of a group.
	GroupPropertyKeys = []string{"HasProperties", "properties", "Properties"}

	// PropertyValueKeys wrap a property value, e.g. {"type": "IfcLabel", "value": "A"}.
	PropertyValueKeys = []string{"NominalValue", "value", "Value"}

	// AttributeKeys are copied verbatim from the raw data.
	AttributeKeys = []string{
		"Name",
		"Description",
		"ObjectType",
		"Tag",
		"PredefinedType",
		"GlobalId",
		"OwnerHistory",
		"LongName",
		"CompositionType",
	}

	inlinePsetPrefixes = []string{"Pset_", "pset_"}
)

var ErrNoRawData = errors.New("element has no raw data")

// Element derives a ProcessedElement from a raw record. It reads nothing but
// the record itself.
func Element(raw RawElementRecord) (ProcessedElement, error) {
	if raw.RawData == nil {
		return ProcessedElement{}, ErrNoRawData
	}

	return ProcessedElement{
		ModelID:    raw.ModelID,
		LocalID:    raw.LocalID,
		GlobalID:   raw.GlobalID,
		IfcClass:   ifcClass(raw.RawData),
		Psets:      propertySets(raw.RawData),
		Attributes: attributes(raw.RawData),
		Raw:        raw.RawData,
	}, nil
}

// Batch extracts every record of a batch. Records that fail are logged and
// reported in the outcome's Skipped list; they never fail the batch.
func Batch(ctx context.Context, batchID int, records []RawElementRecord) (BatchOutcome, error) {
	if err := ctx.Err(); err != nil {
		return BatchOutcome{}, err
	}

	outcome := BatchOutcome{Elements: make([]ProcessedElement, 0, len(records))}
	for _, rec := range records {
		el, err := safeElement(rec)
		if err != nil {
			zap.S().Named("extract").Warnw("skipping element",
				"batch_id", batchID,
				"model_id", rec.ModelID,
				"local_id", rec.LocalID,
				"global_id", rec.GlobalID,
				"error", err)
			outcome.Skipped = append(outcome.Skipped, Skip{
				ModelID:  rec.ModelID,
				LocalID:  rec.LocalID,
				GlobalID: rec.GlobalID,
				Reason:   err.Error(),
			})
			continue
		}
		outcome.Elements = append(outcome.Elements, el)
	}

	return outcome, nil
}

func safeElement(rec RawElementRecord) (el ProcessedElement, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()
	return Element(rec)
}

func ifcClass(data map[string]any) string {
	for _, key := range ClassKeys {
		v, ok := data[key]
		if !ok {
			continue
		}
		if s := textValue(unwrap(v)); s != "" {
			return strings.ToUpper(s)
		}
	}
	return UnknownClass
}

func attributes(data map[string]any) map[string]any {
	attrs := make(map[string]any)
	for _, key := range AttributeKeys {
		if v, ok := data[key]; ok {
			attrs[key] = v
		}
	}
	return attrs
}

func propertySets(data map[string]any) map[string]map[string]any {
	psets := make(map[string]map[string]any)

	for _, key := range ContainerKeys {
		v, ok := data[key]
		if !ok {
			continue
		}
		groups, ok := groupsFrom(v)
		if !ok {
			continue
		}
		for name, props := range groups {
			mergeGroup(psets, name, props)
		}
		break
	}

	for key, v := range data {
		if !isInlinePset(key) {
			continue
		}
		if props, ok := propertiesFrom(v); ok {
			mergeGroup(psets, key, props)
		}
	}

	return psets
}

// groupsFrom reads a container value. ok is false when the value has neither
// of the two supported shapes.
func groupsFrom(v any) (map[string]map[string]any, bool) {
	groups := make(map[string]map[string]any)

	switch container := v.(type) {
	case []any:
		for _, item := range container {
			group, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := firstText(group, GroupNameKeys)
			if name == "" {
				continue
			}
			props := map[string]any{}
			for _, key := range GroupPropertyKeys {
				if raw, ok := group[key]; ok {
					if p, ok := propertiesFrom(raw); ok {
						props = p
					}
					break
				}
			}
			mergeGroup(groups, name, props)
		}
		return groups, true
	case map[string]any:
		for name, item := range container {
			props, ok := propertiesFrom(item)
			if !ok {
				continue
			}
			mergeGroup(groups, name, props)
		}
		return groups, true
	default:
		return nil, false
	}
}

// propertiesFrom reads a property group body: a plain map of name to value,
// a group object carrying one of GroupPropertyKeys, or an array of named
// property objects.
func propertiesFrom(v any) (map[string]any, bool) {
	switch body := v.(type) {
	case map[string]any:
		for _, key := range GroupPropertyKeys {
			if nested, ok := body[key]; ok {
				return propertiesFrom(nested)
			}
		}
		props := make(map[string]any, len(body))
		for name, value := range body {
			props[name] = unwrap(value)
		}
		return props, true
	case []any:
		props := make(map[string]any, len(body))
		for _, item := range body {
			prop, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name := firstText(prop, GroupNameKeys)
			if name == "" {
				continue
			}
			props[name] = propertyValue(prop)
		}
		return props, true
	default:
		return nil, false
	}
}

func propertyValue(prop map[string]any) any {
	for _, key := range PropertyValueKeys {
		if v, ok := prop[key]; ok {
			return unwrap(v)
		}
	}
	return nil
}

// unwrap strips value wrappers such as {"type": "IfcReal", "value": 1.5}.
func unwrap(v any) any {
	for {
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		found := false
		for _, key := range PropertyValueKeys {
			if inner, ok := m[key]; ok {
				v = inner
				found = true
				break
			}
		}
		if !found {
			return v
		}
	}
}

func mergeGroup(dst map[string]map[string]any, name string, props map[string]any) {
	group, ok := dst[name]
	if !ok {
		dst[name] = props
		return
	}
	for k, v := range props {
		if _, exists := group[k]; !exists {
			group[k] = v
		}
	}
}

func isInlinePset(key string) bool {
	for _, prefix := range inlinePsetPrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func firstText(m map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := textValue(unwrap(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
