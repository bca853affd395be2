package segments

import (
	"context"
	"slices"

	"github.com/amirphl/company-segments/models"
)

// SegmentLoader loads one segment; a missing segment is (nil, nil)
type SegmentLoader interface {
	ByID(ctx context.Context, id uint) (*models.Segment, error)
}

// DependencyResolver orders a segment after the segments its filters reference
type DependencyResolver struct {
	segments SegmentLoader
}

// NewDependencyResolver creates a resolver backed by a segment loader
func NewDependencyResolver(segments SegmentLoader) *DependencyResolver {
	return &DependencyResolver{segments: segments}
}

// plan is the state of one planning pass. Only edge lists are kept; loaded
// segments are dropped as soon as their edges are known.
type plan struct {
	segments SegmentLoader
	edges    map[uint][]uint
	resolved map[uint]bool
	order    []uint
}

// PlanByID loads a segment and plans it
func (r *DependencyResolver) PlanByID(ctx context.Context, segmentID uint) ([]uint, error) {
	seg, err := r.segments.ByID(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, &DependentSegmentNotFoundError{SegmentID: segmentID}
	}
	return r.Plan(ctx, seg)
}

// Plan returns the ids of seg and every segment it transitively references,
// referenced segments first and seg last
func (r *DependencyResolver) Plan(ctx context.Context, seg *models.Segment) ([]uint, error) {
	p := &plan{
		segments: r.segments,
		edges:    make(map[uint][]uint),
		resolved: make(map[uint]bool),
	}
	if err := p.visit(ctx, seg.ID, seg, nil, 0); err != nil {
		return nil, err
	}
	return p.order, nil
}

// visit walks depth first; path holds the ids on the current walk and is
// passed by value so sibling branches never see each other's entries
func (p *plan) visit(ctx context.Context, id uint, seg *models.Segment, path []uint, referencedBy uint) error {
	if p.resolved[id] {
		return nil
	}
	if i := slices.Index(path, id); i >= 0 {
		cycle := append(slices.Clone(path[i:]), id)
		return &CircularReferenceError{SegmentID: id, Path: cycle}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	edges, err := p.edgesOf(ctx, id, seg, referencedBy)
	if err != nil {
		return err
	}

	path = append(slices.Clip(path), id)
	for _, dep := range edges {
		if err := p.visit(ctx, dep, nil, path, id); err != nil {
			return err
		}
	}

	p.resolved[id] = true
	p.order = append(p.order, id)
	return nil
}

func (p *plan) edgesOf(ctx context.Context, id uint, seg *models.Segment, referencedBy uint) ([]uint, error) {
	if edges, ok := p.edges[id]; ok {
		return edges, nil
	}
	if seg == nil {
		loaded, err := p.segments.ByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, &DependentSegmentNotFoundError{SegmentID: id, ReferencedBy: referencedBy}
		}
		seg = loaded
	}

	edges, err := seg.Filters.ReferencedSegmentIDs()
	if err != nil {
		if ife, ok := err.(*InvalidFilterError); ok {
			ife.SegmentID = id
		}
		return nil, err
	}
	p.edges[id] = edges
	return edges, nil
}
