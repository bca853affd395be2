package segments

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/amirphl/company-segments/app/filters"
	"github.com/amirphl/company-segments/models"
	"github.com/amirphl/company-segments/repository"
	"github.com/google/uuid"
)

// DefaultAlias is the companies alias of a top level predicate
const DefaultAlias = "c"

// matchNothing is the predicate of a segment without filters
const matchNothing = "1 = 0"

// Predicate is a compiled membership condition over the companies table
type Predicate struct {
	SegmentID uint
	Alias     string
	SQL       string
	Args      []any
}

// Match returns the predicate in the form the membership repository executes
func (p *Predicate) Match() repository.CompanyMatch {
	return repository.CompanyMatch{Alias: p.Alias, Condition: p.SQL, Args: p.Args}
}

// Restrict returns a copy of the predicate bounded by the limiter's id window and cutoff time
func (p *Predicate) Restrict(limiter *models.BatchLimiter) *Predicate {
	out := *p
	if limiter == nil {
		return &out
	}

	expr := filters.Expr{SQL: p.SQL, Args: p.Args}
	var bounds []filters.Expr
	if limiter.MinID != nil {
		bounds = append(bounds, filters.Expr{SQL: p.Alias + ".id >= ?", Args: []any{*limiter.MinID}})
	}
	if limiter.MaxID != nil {
		bounds = append(bounds, filters.Expr{SQL: p.Alias + ".id <= ?", Args: []any{*limiter.MaxID}})
	}
	if limiter.AsOf != nil {
		bounds = append(bounds, filters.Expr{SQL: p.Alias + ".date_added <= ?", Args: []any{*limiter.AsOf}})
	}
	if len(bounds) == 0 {
		return &out
	}

	restricted := filters.And(append([]filters.Expr{expr}, bounds...)...)
	out.SQL = restricted.SQL
	out.Args = restricted.Args
	return &out
}

// CompilerOption configures a PredicateCompiler
type CompilerOption func(*PredicateCompiler)

// WithTranslators registers translators consulted, in order, before the built in ones
func WithTranslators(translators ...filters.Translator) CompilerOption {
	return func(c *PredicateCompiler) {
		c.translators = append(c.translators, translators...)
	}
}

// WithClock overrides the time used to resolve relative dates
func WithClock(now func() time.Time) CompilerOption {
	return func(c *PredicateCompiler) {
		c.now = now
	}
}

// PredicateCompiler turns a segment's filter list into a Predicate
type PredicateCompiler struct {
	segments    SegmentLoader
	registry    *filters.Registry
	resolver    *DependencyResolver
	translators []filters.Translator
	dialect     filters.Dialect
	now         func() time.Time
}

// NewPredicateCompiler creates a compiler
func NewPredicateCompiler(segments SegmentLoader, registry *filters.Registry, dialect filters.Dialect, opts ...CompilerOption) *PredicateCompiler {
	c := &PredicateCompiler{
		segments: segments,
		registry: registry,
		resolver: NewDependencyResolver(segments),
		dialect:  dialect,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolver returns the dependency resolver used before every compilation
func (c *PredicateCompiler) Resolver() *DependencyResolver {
	return c.resolver
}

// Compile plans seg's references and compiles its filters. With changeAliasing the
// companies table gets a generated alias so the result can be nested in another query.
func (c *PredicateCompiler) Compile(ctx context.Context, seg *models.Segment, limiter *models.BatchLimiter, changeAliasing bool) (*Predicate, error) {
	if _, err := c.resolver.Plan(ctx, seg); err != nil {
		return nil, err
	}

	alias := DefaultAlias
	if changeAliasing {
		alias = freshAlias("c")
	}

	expr, err := c.compileFilters(ctx, seg, alias, []uint{seg.ID}, c.now().UTC())
	if err != nil {
		return nil, err
	}
	if expr.IsZero() {
		expr = filters.Expr{SQL: matchNothing}
	}

	p := &Predicate{SegmentID: seg.ID, Alias: alias, SQL: expr.SQL, Args: expr.Args}
	return p.Restrict(limiter), nil
}

// compileFilters folds the list as an OR of AND groups. An OR glue starts a new group.
func (c *PredicateCompiler) compileFilters(ctx context.Context, seg *models.Segment, alias string, path []uint, now time.Time) (filters.Expr, error) {
	if err := seg.Filters.Validate(c.registry); err != nil {
		var ife *InvalidFilterError
		if errors.As(err, &ife) {
			ife.SegmentID = seg.ID
		}
		return filters.Expr{}, err
	}

	var groups []filters.Expr
	var current []filters.Expr
	for i, node := range seg.Filters {
		expr, err := c.compileNode(ctx, seg.ID, node, alias, path, now)
		if err != nil {
			return filters.Expr{}, err
		}
		if i > 0 && seg.Filters.GlueAt(i) == models.FilterGlueOr {
			groups = append(groups, filters.And(current...))
			current = nil
		}
		current = append(current, expr)
	}
	groups = append(groups, filters.And(current...))
	return filters.Or(groups...), nil
}

func (c *PredicateCompiler) compileNode(ctx context.Context, segmentID uint, node models.FilterNode, alias string, path []uint, now time.Time) (filters.Expr, error) {
	if node.IsSegmentReference() {
		return c.compileReference(ctx, segmentID, node, alias, path, now)
	}

	def, ok := c.registry.Lookup(node.Object, node.Field)
	if !ok {
		return filters.Expr{}, &InvalidFilterError{SegmentID: segmentID, Field: node.Field, Operator: node.Operator, Reason: "unknown field"}
	}
	tc := filters.TranslateContext{Alias: alias, Field: def, Dialect: c.dialect, Now: now}

	translators := c.translators
	if def.Translator != nil {
		translators = append(slices.Clip(translators), def.Translator)
	}
	for _, t := range translators {
		expr, handled, err := t.Translate(tc, node)
		if err != nil {
			return filters.Expr{}, fmt.Errorf("segment %d: translate %s %s: %w", segmentID, node.Field, node.Operator, err)
		}
		if handled {
			return expr, nil
		}
	}

	expr, err := filters.TranslateBuiltin(tc, node)
	if errors.Is(err, filters.ErrUnsupported) {
		return filters.Expr{}, &UnsupportedOperatorError{
			SegmentID: segmentID,
			Field:     node.Field,
			FieldType: def.Type,
			Operator:  node.Operator,
			Err:       err,
		}
	}
	if err != nil {
		return filters.Expr{}, &InvalidFilterError{SegmentID: segmentID, Field: node.Field, Operator: node.Operator, Reason: err.Error()}
	}
	return expr, nil
}

// compileReference builds one EXISTS check per referenced segment. Inclusive operators
// accept membership in any of them; exclusive operators require absence from all.
func (c *PredicateCompiler) compileReference(ctx context.Context, segmentID uint, node models.FilterNode, alias string, path []uint, now time.Time) (filters.Expr, error) {
	ids, err := node.SegmentIDs()
	if err != nil {
		return filters.Expr{}, &InvalidFilterError{SegmentID: segmentID, Field: node.Field, Operator: node.Operator, Reason: err.Error()}
	}

	inclusive := node.Operator.IsInclusive()
	parts := make([]filters.Expr, 0, len(ids))
	for _, id := range ids {
		if i := slices.Index(path, id); i >= 0 {
			return filters.Expr{}, &CircularReferenceError{SegmentID: id, Path: append(slices.Clone(path[i:]), id)}
		}
		ref, err := c.segments.ByID(ctx, id)
		if err != nil {
			return filters.Expr{}, err
		}
		if ref == nil {
			return filters.Expr{}, &DependentSegmentNotFoundError{SegmentID: id, ReferencedBy: segmentID}
		}

		expr, err := c.membershipExpr(ctx, ref, alias, append(slices.Clone(path), id), now)
		if err != nil {
			return filters.Expr{}, err
		}
		if !inclusive {
			expr = filters.Not(expr)
		}
		parts = append(parts, expr)
	}

	if inclusive {
		return filters.Or(parts...), nil
	}
	return filters.And(parts...), nil
}

// membershipExpr is true when the company aliased outer belongs to ref: either ref's
// filters match and no remove override exists, or an active membership row exists.
func (c *PredicateCompiler) membershipExpr(ctx context.Context, ref *models.Segment, outer string, path []uint, now time.Time) (filters.Expr, error) {
	if ref.IsManualOnly() {
		return subscribedExpr(ref.ID, outer), nil
	}

	inner := freshAlias("c")
	body, err := c.compileFilters(ctx, ref, inner, path, now)
	if err != nil {
		return filters.Expr{}, err
	}
	body = filters.Or(
		filters.And(body, filters.Not(unsubscribedExpr(ref.ID, inner))),
		subscribedExpr(ref.ID, inner),
	)

	return filters.Expr{
		SQL:  fmt.Sprintf("EXISTS (SELECT 1 FROM companies %[1]s WHERE %[1]s.id = %[2]s.id AND (%[3]s))", inner, outer, body.SQL),
		Args: body.Args,
	}, nil
}

func subscribedExpr(segmentID uint, target string) filters.Expr {
	m := freshAlias("sm")
	return filters.Expr{
		SQL: fmt.Sprintf("EXISTS (SELECT 1 FROM company_segment_members %[1]s WHERE %[1]s.segment_id = ? "+
			"AND %[1]s.company_id = %[2]s.id AND (%[1]s.manually_added = ? OR %[1]s.manually_removed = ?))", m, target),
		Args: []any{segmentID, true, false},
	}
}

func unsubscribedExpr(segmentID uint, target string) filters.Expr {
	m := freshAlias("um")
	return filters.Expr{
		SQL: fmt.Sprintf("EXISTS (SELECT 1 FROM company_segment_members %[1]s WHERE %[1]s.segment_id = ? "+
			"AND %[1]s.company_id = %[2]s.id AND %[1]s.manually_removed = ?)", m, target),
		Args: []any{segmentID, true},
	}
}

func freshAlias(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
