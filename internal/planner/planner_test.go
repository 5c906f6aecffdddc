package planner

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"versfm/internal/domain"
	"versfm/internal/provider"
	"versfm/internal/provider/local"
	"versfm/internal/provider/s3"
	"versfm/internal/provider/s3/s3test"
)

type fixture struct {
	home   *local.Provider
	bucket *s3.Provider
	client *s3test.Client
	set    *provider.Set
}

// newFixture builds the pane pair used across the scenarios: a local tree
// at /home/user with a.txt (10 bytes) and sub/b.txt (5 bytes), and an empty
// bucket named backup.
func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	home := local.NewMemory("home", nil)
	require.NoError(t, home.Mkdir(ctx, "/home/user/sub"))
	_, err := home.Write(ctx, "/home/user/a.txt", strings.NewReader("0123456789"))
	require.NoError(t, err)
	_, err = home.Write(ctx, "/home/user/sub/b.txt", strings.NewReader("12345"))
	require.NoError(t, err)

	client := s3test.NewClient()
	bucket := s3.New("backup", client, s3.Settings{Bucket: "backup"}, nil)

	set, err := provider.NewSet(home, bucket)
	require.NoError(t, err)
	return fixture{home: home, bucket: bucket, client: client, set: set}
}

func (f fixture) entry(t *testing.T, entryPath string) domain.Entry {
	t.Helper()
	entry, err := f.home.Stat(context.Background(), entryPath)
	require.NoError(t, err)
	return entry
}

func homeToBucket(marks ...Mark) Request {
	return Request{
		Source:      PaneRef{ProviderID: "home", Path: "/home/user"},
		Destination: PaneRef{ProviderID: "backup", Path: "/"},
		Marks:       marks,
	}
}

func assertDependenciesPointBackwards(t *testing.T, plan domain.Plan) {
	t.Helper()
	for index, task := range plan.Tasks {
		assert.Equal(t, domain.TaskID(index), task.ID)
		for _, dep := range task.DependsOn {
			assert.Less(t, int(dep), index, "task %d depends on later task %d", index, dep)
		}
	}
}

func TestCopyDirectoryScenario(t *testing.T) {
	f := newFixture(t)

	result := New(f.set, nil).Plan(context.Background(), homeToBucket(Mark{Entry: f.entry(t, "/home/user/sub"), Kind: domain.OpCopy}))
	require.Empty(t, result.Rejected)
	require.Len(t, result.Plan.Tasks, 2)

	mkdir, copyTask := result.Plan.Tasks[0], result.Plan.Tasks[1]
	assert.Equal(t, domain.TaskCreateDir, mkdir.Kind)
	assert.Equal(t, "/sub", mkdir.DestPath)
	assert.Equal(t, domain.TaskCopyBytes, copyTask.Kind)
	assert.Equal(t, "/home/user/sub/b.txt", copyTask.SourcePath)
	assert.Equal(t, "/sub/b.txt", copyTask.DestPath)
	assert.Equal(t, int64(5), copyTask.Size)
	assert.Equal(t, []domain.TaskID{mkdir.ID}, copyTask.DependsOn)
	assert.Equal(t, "/home/user/sub/", copyTask.Origin)
}

func TestParentBeforeChildOnDeepTree(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, dir := range []string{"/home/user/sub/x", "/home/user/sub/x/y", "/home/user/sub/z"} {
		require.NoError(t, f.home.Mkdir(ctx, dir))
	}
	for _, file := range []string{"/home/user/sub/x/1", "/home/user/sub/x/y/2", "/home/user/sub/z/3"} {
		_, err := f.home.Write(ctx, file, strings.NewReader(file))
		require.NoError(t, err)
	}

	result := New(f.set, nil).Plan(ctx, homeToBucket(Mark{Entry: f.entry(t, "/home/user/sub"), Kind: domain.OpCopy}))
	require.Empty(t, result.Rejected)
	assertDependenciesPointBackwards(t, result.Plan)

	createdAt := make(map[string]int)
	for index, task := range result.Plan.Tasks {
		if task.Kind == domain.TaskCreateDir {
			createdAt[task.DestPath] = index
		}
	}
	for index, task := range result.Plan.Tasks {
		if task.DestPath == "/sub" {
			continue
		}
		parentIndex, ok := createdAt[domain.ParentPath(task.DestPath)]
		require.True(t, ok, task.DestPath)
		assert.Less(t, parentIndex, index)
		assert.Contains(t, task.DependsOn, domain.TaskID(parentIndex))
	}
	assert.Equal(t, 4, result.Plan.Count(domain.TaskCreateDir))
	assert.Equal(t, 4, result.Plan.Count(domain.TaskCopyBytes))
}

func TestCrossProviderMoveCopiesThenDeletes(t *testing.T) {
	f := newFixture(t)

	result := New(f.set, nil).Plan(context.Background(), homeToBucket(Mark{Entry: f.entry(t, "/home/user/a.txt"), Kind: domain.OpMove}))
	require.Len(t, result.Plan.Tasks, 2)

	copyTask, deleteTask := result.Plan.Tasks[0], result.Plan.Tasks[1]
	assert.Equal(t, domain.TaskCopyBytes, copyTask.Kind)
	assert.Equal(t, "/a.txt", copyTask.DestPath)
	assert.Equal(t, domain.TaskDelete, deleteTask.Kind)
	assert.Equal(t, "/home/user/a.txt", deleteTask.SourcePath)
	assert.Equal(t, []domain.TaskID{copyTask.ID}, deleteTask.DependsOn)
	assert.Empty(t, deleteTask.DestPath)
}

func TestCrossProviderDirectoryMove(t *testing.T) {
	f := newFixture(t)

	result := New(f.set, nil).Plan(context.Background(), homeToBucket(Mark{Entry: f.entry(t, "/home/user/sub"), Kind: domain.OpMove}))
	require.Len(t, result.Plan.Tasks, 4)
	assertDependenciesPointBackwards(t, result.Plan)

	tasks := result.Plan.Tasks
	assert.Equal(t, domain.TaskCreateDir, tasks[0].Kind)
	assert.Equal(t, domain.TaskCopyBytes, tasks[1].Kind)
	assert.Equal(t, domain.TaskDelete, tasks[2].Kind)
	assert.Equal(t, "/home/user/sub/b.txt", tasks[2].SourcePath)
	assert.Equal(t, []domain.TaskID{1}, tasks[2].DependsOn)
	assert.Equal(t, domain.TaskDelete, tasks[3].Kind)
	assert.Equal(t, "/home/user/sub", tasks[3].SourcePath)
	assert.ElementsMatch(t, []domain.TaskID{0, 2}, tasks[3].DependsOn)
}

func TestSameProviderMoveUsesNativeMove(t *testing.T) {
	f := newFixture(t)
	req := Request{
		Source:      PaneRef{ProviderID: "home", Path: "/home/user"},
		Destination: PaneRef{ProviderID: "home", Path: "/home"},
		Marks:       []Mark{{Entry: f.entry(t, "/home/user/sub"), Kind: domain.OpMove}},
	}

	result := New(f.set, nil).Plan(context.Background(), req)
	require.Len(t, result.Plan.Tasks, 1)
	task := result.Plan.Tasks[0]
	assert.Equal(t, domain.TaskMove, task.Kind)
	assert.Equal(t, "/home/user/sub", task.SourcePath)
	assert.Equal(t, "/home/sub", task.DestPath)
	assert.Empty(t, task.DependsOn)
}

func TestSameProviderMoveWithoutNativeMove(t *testing.T) {
	f := newFixture(t)
	f.client.Put("in/a.txt", []byte("a"))
	f.client.Put("out/", nil)
	entry, err := f.bucket.Stat(context.Background(), "/in/a.txt")
	require.NoError(t, err)

	result := New(f.set, nil).Plan(context.Background(), Request{
		Source:      PaneRef{ProviderID: "backup", Path: "/in"},
		Destination: PaneRef{ProviderID: "backup", Path: "/out"},
		Marks:       []Mark{{Entry: entry, Kind: domain.OpMove}},
	})
	require.Len(t, result.Plan.Tasks, 2)
	assert.Equal(t, domain.TaskCopyBytes, result.Plan.Tasks[0].Kind)
	assert.Equal(t, domain.TaskDelete, result.Plan.Tasks[1].Kind)
}

func TestDeleteDirectoryIsPostOrder(t *testing.T) {
	f := newFixture(t)

	result := New(f.set, nil).Plan(context.Background(), Request{
		Source: PaneRef{ProviderID: "home", Path: "/home/user"},
		Marks:  []Mark{{Entry: f.entry(t, "/home/user/sub"), Kind: domain.OpDelete}},
	})
	require.Empty(t, result.Rejected)
	require.Len(t, result.Plan.Tasks, 2)

	leaf, dir := result.Plan.Tasks[0], result.Plan.Tasks[1]
	assert.Equal(t, "/home/user/sub/b.txt", leaf.SourcePath)
	assert.Equal(t, "/home/user/sub", dir.SourcePath)
	assert.Equal(t, domain.EntryDir, dir.SourceKind)
	assert.Equal(t, []domain.TaskID{leaf.ID}, dir.DependsOn)
	assert.Zero(t, result.Plan.Count(domain.TaskCopyBytes))
	assert.Zero(t, result.Plan.Count(domain.TaskCreateDir))
}

func TestDeleteDeepTreeChildrenBeforeParents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.home.Mkdir(ctx, "/home/user/sub/x/y"))
	_, err := f.home.Write(ctx, "/home/user/sub/x/y/deep", strings.NewReader("d"))
	require.NoError(t, err)

	result := New(f.set, nil).Plan(ctx, Request{
		Source: PaneRef{ProviderID: "home", Path: "/home/user"},
		Marks:  []Mark{{Entry: f.entry(t, "/home/user/sub"), Kind: domain.OpDelete}},
	})
	assertDependenciesPointBackwards(t, result.Plan)

	position := make(map[string]int)
	for index, task := range result.Plan.Tasks {
		position[task.SourcePath] = index
	}
	for childPath, index := range position {
		if parentIndex, ok := position[domain.ParentPath(childPath)]; ok {
			assert.Less(t, index, parentIndex, "%s must be deleted before its parent", childPath)
		}
	}
}

func TestRejectsCopyIntoOwnSubtree(t *testing.T) {
	f := newFixture(t)
	result := New(f.set, nil).Plan(context.Background(), Request{
		Source:      PaneRef{ProviderID: "home", Path: "/home/user"},
		Destination: PaneRef{ProviderID: "home", Path: "/home/user/sub"},
		Marks: []Mark{
			{Entry: f.entry(t, "/home/user/sub"), Kind: domain.OpCopy},
			{Entry: f.entry(t, "/home/user/a.txt"), Kind: domain.OpCopy},
		},
	})
	require.Len(t, result.Rejected, 1)
	assert.ErrorIs(t, result.Rejected[0].Err, domain.ErrConflict)
	assert.Equal(t, "/home/user/sub/", result.Rejected[0].Origin)
	require.Len(t, result.Plan.Tasks, 1)
	assert.Equal(t, "/home/user/sub/a.txt", result.Plan.Tasks[0].DestPath)
}

func TestListingFailureRejectsOnlyThatMark(t *testing.T) {
	f := newFixture(t)
	f.client.Put("dir/x", []byte("x"))
	f.client.Put("y", []byte("y"))
	dir, err := f.bucket.Stat(context.Background(), "/dir")
	require.NoError(t, err)
	file, err := f.bucket.Stat(context.Background(), "/y")
	require.NoError(t, err)
	f.client.Inject = func(op, _ string) error {
		if op == "ListObjectsV2" {
			return &smithy.GenericAPIError{Code: "AccessDenied"}
		}
		return nil
	}

	result := New(f.set, nil).Plan(context.Background(), Request{
		Source: PaneRef{ProviderID: "backup", Path: "/"},
		Marks: []Mark{
			{Entry: dir, Kind: domain.OpDelete},
			{Entry: file, Kind: domain.OpDelete},
		},
	})
	require.Len(t, result.Rejected, 1)
	assert.ErrorIs(t, result.Rejected[0].Err, domain.ErrPermissionDenied)
	require.Len(t, result.Plan.Tasks, 1)
	assert.Equal(t, "/y", result.Plan.Tasks[0].SourcePath)
}

func TestUnknownProviderPanics(t *testing.T) {
	f := newFixture(t)
	assert.Panics(t, func() {
		New(f.set, nil).Plan(context.Background(), Request{Source: PaneRef{ProviderID: "ghost"}})
	})
}
