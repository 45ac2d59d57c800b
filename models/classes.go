package models

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// OutputClassSet ties a family to its full, ordered list of labels.
type OutputClassSet struct {
	// Class set identifier.
	Style ModelFamily
	// Classes in model index order.
	Classes []OutputClass
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewOutputClassSet builds a set from names in index order.
func NewOutputClassSet(style ModelFamily, names ...string) *OutputClassSet {
	set := &OutputClassSet{Style: style, Classes: make([]OutputClass, len(names))}
	for i, n := range names {
		set.Classes[i] = OutputClass{Index: i, Name: n}
	}
	set.BuildNameIndexMap()
	return set
}

// BuildNameIndexMap builds or rebuilds the name->index map.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
	}
}

// Len returns the number of classes.
func (s *OutputClassSet) Len() int {
	return len(s.Classes)
}

// Names returns the class names in index order.
func (s *OutputClassSet) Names() []string {
	names := make([]string, len(s.Classes))
	for i, c := range s.Classes {
		names[i] = c.Name
	}
	return names
}

// Name returns the name at idx and whether idx is in range.
func (s *OutputClassSet) Name(idx int) (string, bool) {
	if idx < 0 || idx >= len(s.Classes) {
		return "", false
	}
	return s.Classes[idx].Name, true
}

// Index returns the index of name and whether it belongs to the set.
func (s *OutputClassSet) Index(name string) (int, bool) {
	if s.nameToIdx == nil {
		s.BuildNameIndexMap()
	}
	idx, ok := s.nameToIdx[name]
	return idx, ok
}

// Contains reports whether name belongs to the set.
func (s *OutputClassSet) Contains(name string) bool {
	_, ok := s.Index(name)
	return ok
}

// ResolveClassName maps a model prediction to a label of the set.
//
// The model's own label wins when it belongs to the set. A label that looks
// like a caries code ("D" plus one digit) is kept even when the set does not
// list it, so a D7-capable model served with the D0..D6 set still reports
// D7. Otherwise the index is looked up, and anything unresolvable becomes
// the first class of the set.
//
// Arguments:
//   - name: The label reported by the model, may be empty.
//   - idx: The class index reported by the model.
//
// Returns:
//   - string: The resolved label.
func (s *OutputClassSet) ResolveClassName(name string, idx int) string {
	if name != "" && s.Contains(name) {
		return name
	}
	if isCariesCode(name) {
		return name
	}
	if n, ok := s.Name(idx); ok {
		return n
	}
	if len(s.Classes) > 0 {
		return s.Classes[0].Name
	}
	return ClassD0
}

func isCariesCode(name string) bool {
	return len(name) == 2 && name[0] == 'D' && name[1] >= '0' && name[1] <= '9'
}

// Caries class labels, ordered from sound tooth to most severe lesion.
const (
	ClassD0 = "D0"
	ClassD1 = "D1"
	ClassD2 = "D2"
	ClassD3 = "D3"
	ClassD4 = "D4"
	ClassD5 = "D5"
	ClassD6 = "D6"
	ClassD7 = "D7"
)

// CariesClasses is the D0..D6 label set the detection model is trained on.
var CariesClasses = NewOutputClassSet(ModelFamilyCaries,
	ClassD0, ClassD1, ClassD2, ClassD3, ClassD4, ClassD5, ClassD6)

// CariesClassesExtended adds D7 to the standard set.
var CariesClassesExtended = NewOutputClassSet(ModelFamilyCariesExtended,
	ClassD0, ClassD1, ClassD2, ClassD3, ClassD4, ClassD5, ClassD6, ClassD7)

// ClassSetFor returns the registered set for a family, or a custom set
// built from names when names is non-empty.
func ClassSetFor(family ModelFamily, names []string) (*OutputClassSet, error) {
	if len(names) > 0 {
		return NewOutputClassSet(family, names...), nil
	}
	set, ok := DefaultClassManager.sets[family]
	if !ok {
		return nil, fmt.Errorf("class family %q not registered", family)
	}
	return set, nil
}

// Severity returns the ordinal severity of a caries label (D3 -> 3) or -1
// when the label is not a caries code.
func Severity(name string) int {
	name = strings.TrimSpace(name)
	if !isCariesCode(name) {
		return -1
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil {
		return -1
	}
	return n
}

var classColors = map[string]color.RGBA{
	ClassD0: {0, 255, 0, 255},
	ClassD1: {255, 255, 0, 255},
	ClassD2: {255, 165, 0, 255},
	ClassD3: {255, 0, 0, 255},
	ClassD4: {255, 0, 255, 255},
	ClassD5: {128, 0, 128, 255},
	ClassD6: {0, 0, 255, 255},
	ClassD7: {139, 69, 19, 255},
}

// ClassColor returns the annotation color of a label; unknown labels are white.
func ClassColor(name string) color.RGBA {
	if c, ok := classColors[name]; ok {
		return c
	}
	return color.RGBA{255, 255, 255, 255}
}

// ClassManager holds all registered class sets.
type ClassManager struct {
	sets map[ModelFamily]*OutputClassSet
}

// DefaultClassManager knows the standard and extended caries sets.
var DefaultClassManager = NewClassManager(CariesClasses, CariesClassesExtended)

// NewClassManager initializes and registers the given sets.
func NewClassManager(allSets ...*OutputClassSet) *ClassManager {
	mgr := &ClassManager{sets: make(map[ModelFamily]*OutputClassSet)}
	for _, set := range allSets {
		set.BuildNameIndexMap()
		mgr.sets[set.Style] = set
	}
	return mgr
}
