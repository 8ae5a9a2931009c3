package forge

import "github.com/TheBitDrifter/bark"

// checkConflicts enforces §4.6's static conflict rule: within a single
// system's parameter list, a component type may appear at most once as
// Write, and never as both Read and Write. The derive/generic layer is
// expected to catch this earlier; this is the run-time assertion for
// robustness the spec calls for.
func checkConflicts(access []ParamAccess) error {
	seen := make(map[ComponentTypeIdx]ParamAccessKind, len(access))
	for _, a := range access {
		prior, ok := seen[a.Type]
		if !ok {
			seen[a.Type] = a.Kind
			continue
		}
		if prior == AccessWrite || a.Kind == AccessWrite {
			return AccessConflictError{ComponentType: a.Type}
		}
	}
	return nil
}

func mergeProperties(parts ...ParamProperties) ParamProperties {
	var out ParamProperties
	for _, p := range parts {
		out.Access = append(out.Access, p.Access...)
		out.FilterOnly = append(out.FilterOnly, p.FilterOnly...)
		out.Singletons = append(out.Singletons, p.Singletons...)
		out.Structural = out.Structural || p.Structural
	}
	if err := checkConflicts(out.Access); err != nil {
		panic(bark.AddTrace(err))
	}
	return out
}

// Params2 composes two parameter kinds into one, with component-wise union
// access and the same conflict check a hand-written system would need
// (§4.6: "tuples up to fixed arity"). Params3/Params4 follow the identical
// pattern; extending to higher arities means adding another such struct,
// not changing this one.
type Params2[A SystemParam, B SystemParam] struct {
	A A
	B B
}

func (p Params2[A, B]) Properties(sto *storage) ParamProperties {
	return mergeProperties(p.A.Properties(sto), p.B.Properties(sto))
}

// Params3 composes three parameter kinds; see Params2.
type Params3[A, B, C SystemParam] struct {
	A A
	B B
	C C
}

func (p Params3[A, B, C]) Properties(sto *storage) ParamProperties {
	return mergeProperties(p.A.Properties(sto), p.B.Properties(sto), p.C.Properties(sto))
}

// Filters2 composes two QueryFilters into one, for Query[P, F] callers
// that need to require more than one component's presence (§4.6,
// original_source's tuple QueryFilter impl: "group multiple With in a
// tuple"). Filters3 follows the identical pattern for three.
type Filters2[A, B QueryFilter] struct {
	A A
	B B
}

func (f Filters2[A, B]) filterTypes(sto *storage) []ComponentTypeIdx {
	out := f.A.filterTypes(sto)
	return append(out, f.B.filterTypes(sto)...)
}

// Filters3 composes three QueryFilters; see Filters2.
type Filters3[A, B, C QueryFilter] struct {
	A A
	B B
	C C
}

func (f Filters3[A, B, C]) filterTypes(sto *storage) []ComponentTypeIdx {
	out := f.A.filterTypes(sto)
	out = append(out, f.B.filterTypes(sto)...)
	out = append(out, f.C.filterTypes(sto)...)
	return out
}

// Params4 composes four parameter kinds; see Params2.
type Params4[A, B, C, D SystemParam] struct {
	A A
	B B
	C C
	D D
}

func (p Params4[A, B, C, D]) Properties(sto *storage) ParamProperties {
	return mergeProperties(p.A.Properties(sto), p.B.Properties(sto), p.C.Properties(sto), p.D.Properties(sto))
}
