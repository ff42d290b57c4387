package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/srg/brc1h/internal/protocol"
	"github.com/srg/brc1h/internal/state"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var labelColor = color.New(color.FgCyan)

// temperatures are shown with a unit.
var temperatures = map[protocol.Attribute]bool{
	protocol.AttrCoolingSetpoint:         true,
	protocol.AttrHeatingSetpoint:         true,
	protocol.AttrSetpointMinDifferential: true,
	protocol.AttrCoolingLowerLimit:       true,
	protocol.AttrHeatingLowerLimit:       true,
	protocol.AttrCoolingUpperLimit:       true,
	protocol.AttrHeatingUpperLimit:       true,
	protocol.AttrIndoorTemperature:       true,
	protocol.AttrOutdoorTemperature:      true,
}

// formatValue renders one attribute value for humans.
func formatValue(attr protocol.Attribute, v any) string {
	switch x := v.(type) {
	case nil:
		return "n/a"
	case bool:
		if attr == protocol.AttrPower {
			if x {
				return "on"
			}
			return "off"
		}
		if x {
			return "yes"
		}
		return "no"
	case float64:
		if temperatures[attr] {
			return fmt.Sprintf("%.1f °C", x)
		}
		return fmt.Sprintf("%g", x)
	case int:
		if temperatures[attr] {
			return fmt.Sprintf("%d °C", x)
		}
		return fmt.Sprintf("%d", x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// selectAttributes returns attrs, or every attribute when attrs is empty,
// keeping only the ones s knows.
func selectAttributes(s state.DeviceState, attrs []protocol.Attribute) []protocol.Attribute {
	if len(attrs) == 0 {
		attrs = protocol.Attributes
	}
	known := make([]protocol.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := s.Get(attr); ok {
			known = append(known, attr)
		}
	}
	return known
}

// printState writes one aligned "name  value" line per attribute.
func printState(w io.Writer, s state.DeviceState, attrs []protocol.Attribute) {
	attrs = selectAttributes(s, attrs)

	width := 0
	for _, attr := range attrs {
		width = max(width, len(attr))
	}
	for _, attr := range attrs {
		v, _ := s.Get(attr)
		label := fmt.Sprintf("%-*s", width, attr)
		fmt.Fprintf(w, "%s  %s\n", labelColor.Sprint(label), formatValue(attr, v))
	}
}

// printStateJSON writes the selected attributes as an ordered JSON object.
func printStateJSON(w io.Writer, s state.DeviceState, attrs []protocol.Attribute) error {
	doc := orderedmap.New[string, any]()
	for _, attr := range selectAttributes(s, attrs) {
		v, _ := s.Get(attr)
		doc.Set(string(attr), v)
	}
	return writeJSON(w, doc)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseAttributes validates attribute names given on the command line.
func parseAttributes(names []string) ([]protocol.Attribute, error) {
	var attrs []protocol.Attribute
	for _, arg := range names {
		for _, name := range strings.Split(arg, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			attr, err := protocol.ParseAttribute(name)
			if err != nil {
				return nil, err
			}
			attrs = append(attrs, attr)
		}
	}
	return attrs, nil
}
