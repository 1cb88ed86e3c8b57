package migrations

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndrodm/src/engine"
	"syndrodm/src/odm"
)

type note struct {
	odm.Base `bson:",inline"`
	Text     string `bson:"text"`
}

type recorder struct {
	calls []string
}

func (r *recorder) step(label string) Procedure {
	return func(ctx context.Context, tx *Tx) error {
		r.calls = append(r.calls, label)
		return nil
	}
}

func insertNote(text string) Procedure {
	return func(ctx context.Context, tx *Tx) error {
		notes, err := odm.SchemaOf[note](tx.Registry)
		if err != nil {
			return err
		}
		return notes.Insert(ctx, &note{Text: text}, odm.InSession(tx.Session))
	}
}

func setup(t *testing.T) (context.Context, *odm.Registry, *odm.Schema[note]) {
	t.Helper()
	ctx := context.Background()
	reg := odm.NewRegistry(engine.NewDatabase("test"))
	notes, err := odm.Register[note](ctx, reg)
	require.NoError(t, err)
	return ctx, reg, notes
}

func modulesFor(r *recorder) []Module {
	return []Module{
		{Name: "0003_c", Forward: []Procedure{r.step("c+")}, Backward: []Procedure{r.step("c-")}},
		{Name: "0001_a", Forward: []Procedure{r.step("a+")}, Backward: []Procedure{r.step("a-")}},
		{Name: "0002_b", Forward: []Procedure{r.step("b+"), insertNote("b")}, Backward: []Procedure{r.step("b-")}},
	}
}

func currentLogs(t *testing.T, ctx context.Context, chain *Chain) []string {
	t.Helper()
	logs, err := chain.logs.Find(chain.logs.Field("is_current").Eq(true)).ToList(ctx)
	require.NoError(t, err)
	var names []string
	for _, l := range logs {
		names = append(names, l.Name)
	}
	return names
}

func TestBuildLinksModulesInNameOrder(t *testing.T) {
	ctx, reg, _ := setup(t)
	chain, err := Build(ctx, reg, modulesFor(&recorder{}))
	require.NoError(t, err)

	assert.Equal(t, "0001_a", chain.Root().Next)
	assert.Equal(t, "", chain.Current())
	nodes := chain.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, Node{Name: "0002_b", Next: "0003_c", Prev: "0001_a"}, nodes[1])
	assert.Equal(t, "", nodes[0].Prev)
	assert.Equal(t, "", nodes[2].Next)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	ctx, reg, _ := setup(t)
	_, err := Build(ctx, reg, []Module{{Name: "0001_a"}, {Name: "0001_a"}})
	assert.ErrorIs(t, err, ErrDuplicateModule)
}

func TestRunForwardWithDistance(t *testing.T) {
	ctx, reg, notes := setup(t)
	r := &recorder{}
	chain, err := Build(ctx, reg, modulesFor(r))
	require.NoError(t, err)

	res, err := chain.Run(ctx, Mode{Direction: Forward, Distance: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"a+", "b+"}, r.calls)
	assert.Equal(t, []string{"0001_a", "0002_b"}, res.Applied)
	assert.Equal(t, "0002_b", chain.Current())
	assert.Equal(t, []string{"0002_b"}, currentLogs(t, ctx, chain))
	assert.NotEmpty(t, res.RunID)

	n, err := notes.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	rebuilt, err := Build(ctx, reg, modulesFor(&recorder{}))
	require.NoError(t, err)
	assert.Equal(t, "0002_b", rebuilt.Current())
	assert.Equal(t, []Status{
		{Name: "0001_a", Applied: true},
		{Name: "0002_b", Applied: true, Current: true},
		{Name: "0003_c"},
	}, rebuilt.Status())
}

func TestRunToTheEndAndBack(t *testing.T) {
	ctx, reg, _ := setup(t)
	r := &recorder{}
	chain, err := Build(ctx, reg, modulesFor(r))
	require.NoError(t, err)

	_, err = chain.Run(ctx, Mode{Direction: Forward})
	require.NoError(t, err)
	assert.Equal(t, "0003_c", chain.Current())

	res, err := chain.Run(ctx, Mode{Direction: Forward})
	require.NoError(t, err)
	assert.Empty(t, res.Applied, "nothing left to apply")

	_, err = chain.Run(ctx, Mode{Direction: Backward, Distance: 1})
	require.NoError(t, err)
	assert.Equal(t, "0002_b", chain.Current())
	assert.Equal(t, []string{"0002_b"}, currentLogs(t, ctx, chain))

	_, err = chain.Run(ctx, Mode{Direction: Backward})
	require.NoError(t, err)
	assert.Equal(t, "", chain.Current())
	assert.Empty(t, currentLogs(t, ctx, chain))
	assert.Equal(t, []string{"a+", "b+", "c+", "c-", "b-", "a-"}, r.calls)
}

func TestFailedNodeIsRolledBack(t *testing.T) {
	ctx, reg, notes := setup(t)
	r := &recorder{}
	boom := errors.New("boom")
	modules := []Module{
		{Name: "0001_a", Forward: []Procedure{r.step("a+")}},
		{Name: "0002_b", Forward: []Procedure{insertNote("partial"), func(context.Context, *Tx) error { return boom }}},
		{Name: "0003_c", Forward: []Procedure{r.step("c+")}},
	}
	chain, err := Build(ctx, reg, modules)
	require.NoError(t, err)

	res, err := chain.Run(ctx, Mode{Direction: Forward})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"0001_a"}, res.Applied)
	assert.Equal(t, "0001_a", chain.Current())
	assert.Equal(t, []string{"a+"}, r.calls, "the walk stops at the failing node")
	assert.Equal(t, []string{"0001_a"}, currentLogs(t, ctx, chain))

	n, err := notes.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "writes of the failed node are discarded")
}

func TestFailedBackwardNodeKeepsMarker(t *testing.T) {
	ctx, reg, notes := setup(t)
	r := &recorder{}
	boom := errors.New("boom")
	modules := []Module{
		{Name: "0001_a", Forward: []Procedure{r.step("a+")}, Backward: []Procedure{r.step("a-")}},
		{
			Name:     "0002_b",
			Forward:  []Procedure{insertNote("kept")},
			Backward: []Procedure{insertNote("undo"), func(context.Context, *Tx) error { return boom }},
		},
	}
	chain, err := Build(ctx, reg, modules)
	require.NoError(t, err)

	_, err = chain.Run(ctx, Mode{Direction: Forward})
	require.NoError(t, err)
	require.Equal(t, "0002_b", chain.Current())

	res, err := chain.Run(ctx, Mode{Direction: Backward})
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Empty(t, res.Applied)
	assert.Equal(t, "0002_b", chain.Current())
	assert.Equal(t, []string{"0002_b"}, currentLogs(t, ctx, chain))
	assert.Equal(t, []string{"a+"}, r.calls, "0001_a is never rolled back")

	got, err := notes.FindAll().ToList(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1, "writes of the failed backward node are discarded")
	assert.Equal(t, "kept", got[0].Text)
}

func TestUnknownCurrentMarker(t *testing.T) {
	ctx, reg, _ := setup(t)
	chain, err := Build(ctx, reg, modulesFor(&recorder{}))
	require.NoError(t, err)
	_, err = chain.Run(ctx, Mode{Direction: Forward, Distance: 1})
	require.NoError(t, err)

	_, err = Build(ctx, reg, []Module{{Name: "0009_z"}})
	assert.ErrorIs(t, err, ErrUnknownCurrent)
}

type observed struct {
	mu   sync.Mutex
	runs []string
}

func (o *observed) ObserveMigration(name, direction string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	label := name + " " + direction
	if err != nil {
		label += " failed"
	}
	o.runs = append(o.runs, label)
}

func (o *observed) ObserveIndexes(string, int, int) {}

func TestRunReportsMetrics(t *testing.T) {
	ctx := context.Background()
	obs := &observed{}
	reg := odm.NewRegistry(engine.NewDatabase("test"), odm.WithMetrics(obs))
	_, err := odm.Register[note](ctx, reg)
	require.NoError(t, err)

	chain, err := Build(ctx, reg, []Module{
		{Name: "0001_a"},
		{Name: "0002_b", Forward: []Procedure{func(context.Context, *Tx) error { return errors.New("boom") }}},
	})
	require.NoError(t, err)

	_, err = chain.Run(ctx, Mode{Direction: Forward})
	require.Error(t, err)
	assert.Equal(t, []string{"0001_a forward", "0002_b forward failed"}, obs.runs)
}

func TestPackageModules(t *testing.T) {
	Add(Module{Name: "0001_init"})
	assert.Contains(t, Modules(), Module{Name: "0001_init"})
}
