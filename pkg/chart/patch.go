package chart

// Patch is a partial chart update. Nil fields are left unchanged; a non-nil
// Filters map replaces the legacy filters wholesale.
type Patch struct {
	Title        *string
	Type         *Type
	XAxis        *string
	YAxis        *string
	SecondYAxis  *string
	DualAxisMode *DualAxisMode
	Aggregation  *Aggregation
	LegendField  *string
	Filters      Filters
	ShowNote     *bool
}

// Ptr returns a pointer to v, for building patches inline.
func Ptr[T any](v T) *T { return &v }

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Type == nil && p.XAxis == nil && p.YAxis == nil &&
		p.SecondYAxis == nil && p.DualAxisMode == nil && p.Aggregation == nil &&
		p.LegendField == nil && p.Filters == nil && p.ShowNote == nil
}

// Structural reports whether applying the patch invalidates a previous render.
// Title and note visibility are cosmetic.
func (p Patch) Structural() bool {
	return p.Type != nil || p.XAxis != nil || p.YAxis != nil || p.SecondYAxis != nil ||
		p.DualAxisMode != nil || p.Aggregation != nil || p.LegendField != nil || p.Filters != nil
}

// Apply returns a copy of c with the patch applied. Render state is not touched.
func (p Patch) Apply(c Chart) Chart {
	out := c.Clone()
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Type != nil {
		out.Type = *p.Type
	}
	if p.XAxis != nil {
		out.XAxis = *p.XAxis
	}
	if p.YAxis != nil {
		out.YAxis = *p.YAxis
	}
	if p.SecondYAxis != nil {
		out.SecondYAxis = *p.SecondYAxis
	}
	if p.DualAxisMode != nil {
		out.DualAxisMode = *p.DualAxisMode
	}
	if p.Aggregation != nil {
		out.Aggregation = *p.Aggregation
	}
	if p.LegendField != nil {
		out.LegendField = *p.LegendField
	}
	if p.Filters != nil {
		out.Filters = p.Filters.Clone()
	}
	if p.ShowNote != nil {
		out.ShowNote = *p.ShowNote
	}
	return out
}
