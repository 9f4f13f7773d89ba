package client

// Viewport describes the visible part of a scrolled list of fixed-height rows.
type Viewport struct {
	// Offset is how far the list is scrolled, in the same unit as Height.
	Offset int
	Height int
	// RowHeight is the height of one item. Values below 1 are treated as 1.
	RowHeight int
	// Overscan is the number of extra items rendered on each side.
	Overscan int
}

// Range is the half-open interval [Start, End) of items to render.
type Range struct {
	Start, End int
}

func (r Range) Len() int { return r.End - r.Start }

// Window returns which of total items must be rendered for v. It does not
// look at the items themselves, so it is independent of how they are loaded
// or cached.
func Window(total int, v Viewport) Range {
	if total <= 0 || v.Height <= 0 {
		return Range{}
	}
	row := v.RowHeight
	if row < 1 {
		row = 1
	}
	offset := v.Offset
	if offset < 0 {
		offset = 0
	}
	overscan := v.Overscan
	if overscan < 0 {
		overscan = 0
	}

	start := offset/row - overscan
	end := (offset+v.Height+row-1)/row + overscan
	if start < 0 {
		start = 0
	}
	if end > total {
		end = total
	}
	if start > end {
		start = end
	}
	return Range{Start: start, End: end}
}

// Tail is the viewport that shows the last rows of total items, which is
// where a chat view sits after a new message.
func Tail(total int, height, rowHeight int) Viewport {
	if rowHeight < 1 {
		rowHeight = 1
	}
	offset := total*rowHeight - height
	if offset < 0 {
		offset = 0
	}
	return Viewport{Offset: offset, Height: height, RowHeight: rowHeight}
}

// Visible slices items to r, clamped to its bounds.
func Visible[T any](items []T, r Range) []T {
	start, end := r.Start, r.End
	if end > len(items) {
		end = len(items)
	}
	if start < 0 {
		start = 0
	}
	if start > end {
		return nil
	}
	return items[start:end]
}
