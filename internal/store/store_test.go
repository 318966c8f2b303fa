package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"fieldnotes/internal/analysis"
	"fieldnotes/internal/persist"
	"fieldnotes/internal/services"
	"fieldnotes/internal/store"
	"fieldnotes/internal/testsupport"
	"fieldnotes/internal/transcript"
)

func threeExcerptResult() *analysis.Result {
	result := &analysis.Result{
		ProblemAreas: []analysis.ProblemArea{
			{ProblemID: "pa-1", Title: "Report sharing", Description: "Reports go out by email.", Excerpts: []analysis.Excerpt{
				{Quote: "I email the PDF every Friday.", Categories: []string{"workaround"}, Insight: "Manual distribution", ChunkNumber: 1},
				{Quote: "Nobody reads it.", Categories: []string{"pain_point", "frustration"}, ChunkNumber: 2},
			}},
			{ProblemID: "pa-2", Title: "Spreadsheet sprawl", Description: "Data lives in many sheets.", Excerpts: []analysis.Excerpt{
				{Quote: "We have twelve copies.", Categories: []string{"context"}, ChunkNumber: 3},
			}},
		},
		Synthesis: &analysis.Synthesis{Background: "An operations lead at a clinic.", NextSteps: []string{"Follow up"}},
		Transcript: []transcript.Chunk{
			{Number: 1, Speaker: "Sam", Text: "I email the PDF every Friday."},
			{Number: 2, Speaker: "Sam", Text: "Nobody reads it."},
			{Number: 3, Speaker: "Sam", Text: "We have twelve copies."},
		},
	}
	result.Finalize()
	return result
}

func TestPersistWritesInterviewTree(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	persona := testsupport.NewPersona(t, st, "owner-1", "Clinic manager")
	project, err := st.CreateProject(ctx, "owner-1", "Clinic study")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	plan, err := persist.BuildPlan(threeExcerptResult(), persist.PlanOptions{
		OwnerID:       "owner-1",
		ProjectID:     &project.ID,
		Interviewer:   "Riley",
		InterviewDate: "2026-02-01",
		PersonaIDs:    []int64{persona.ID},
		ContentHash:   "hash-1",
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	ref, err := persist.NewMapper(st, nil).Persist(ctx, plan)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if ref.ID <= 0 || ref.CreatedAt.IsZero() {
		t.Fatalf("unexpected storage ref %+v", ref)
	}

	counts, err := st.CountRows(ctx)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if counts.Interviews != 1 || counts.ProblemAreas != 2 || counts.Excerpts != 3 || counts.Links != 1 {
		t.Fatalf("unexpected row counts %+v", counts)
	}

	tree, err := st.InterviewTree(ctx, ref.ID)
	if err != nil {
		t.Fatalf("InterviewTree: %v", err)
	}
	got := tree.Interview
	if got.ProblemCount != 2 || got.TranscriptLength != 3 || got.ExcerptCount != 3 {
		t.Fatalf("unexpected interview counts %+v", got)
	}
	if got.ProjectID == nil || *got.ProjectID != project.ID || got.Interviewer != "Riley" || got.ContentHash != "hash-1" {
		t.Fatalf("associations not stored: %+v", got)
	}
	if len(got.AnalysisJSON) == 0 {
		t.Fatal("analysis_data not stored")
	}
	if len(tree.ProblemAreas) != 2 || tree.ProblemAreas[0].ProblemID != "pa-1" || len(tree.ProblemAreas[0].Excerpts) != 2 {
		t.Fatalf("unexpected tree %+v", tree.ProblemAreas)
	}
	second := tree.ProblemAreas[0].Excerpts[1]
	if second.ChunkNumber != 2 || len(second.Categories) != 2 || second.Categories[1] != "frustration" {
		t.Fatalf("unexpected excerpt %+v", second)
	}
	if len(tree.Personas) != 1 || tree.Personas[0].ID != persona.ID {
		t.Fatalf("unexpected personas %+v", tree.Personas)
	}

	list, err := st.ListInterviews(ctx, "owner-1", 10)
	if err != nil {
		t.Fatalf("ListInterviews: %v", err)
	}
	if len(list) != 1 || list[0].AnalysisJSON != nil {
		t.Fatalf("unexpected list %+v", list)
	}
	if n, _ := st.CountInterviews(ctx, "owner-2"); n != 0 {
		t.Fatalf("expected no interviews for other owner, got %d", n)
	}
}

func TestPersistRollsBackWhenLastExcerptFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	plan, err := persist.BuildPlan(threeExcerptResult(), persist.PlanOptions{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	// chunk_number has a CHECK (>= 1) constraint, so the third insert fails.
	plan.ProblemAreas[1].Excerpts[0].ChunkNumber = 0

	_, err = persist.NewMapper(st, nil).Persist(ctx, plan)
	var storageErr *persist.StorageError
	if !errors.As(err, &storageErr) || !errors.Is(err, services.ErrStorage) {
		t.Fatalf("expected StorageError, got %v", err)
	}

	counts, err := st.CountRows(ctx)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if counts != (store.RowCounts{}) {
		t.Fatalf("expected no rows after rollback, got %+v", counts)
	}
}

func TestCreatePersonaConflicts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := st.CreatePersona(ctx, "owner-1", "  Clinician ", "")
	if err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}
	if first.Name != "Clinician" || first.Color != store.PaletteColor("clinician") {
		t.Fatalf("unexpected persona %+v", first)
	}

	_, err = st.CreatePersona(ctx, "owner-1", "CLINICIAN", "#112233")
	var conflict *store.PersonaConflictError
	if !errors.As(err, &conflict) || !errors.Is(err, services.ErrPersonaConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if conflict.ExistingID != first.ID {
		t.Fatalf("conflict should name existing persona, got %+v", conflict)
	}

	if _, err := st.CreatePersona(ctx, "owner-2", "clinician", ""); err != nil {
		t.Fatalf("same name for another owner should succeed: %v", err)
	}
	if _, err := st.CreatePersona(ctx, "owner-1", "Nurse", "red"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for bad color, got %v", err)
	}
}

func TestConcurrentPersonaCreateYieldsOneRow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	names := []string{"Clinician", "clinician"}
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			_, errs[i] = st.CreatePersona(ctx, "owner-1", name, "")
		}(i, name)
	}
	wg.Wait()

	succeeded, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, services.ErrPersonaConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicts != 1 {
		t.Fatalf("expected one success and one conflict, got %d/%d", succeeded, conflicts)
	}
	personas, err := st.ListPersonas(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListPersonas: %v", err)
	}
	if len(personas) != 1 {
		t.Fatalf("expected one persona row, got %d", len(personas))
	}
}

func TestLinkPersonasRejectsForeignOwner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	plan, err := persist.BuildPlan(threeExcerptResult(), persist.PlanOptions{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	ref, err := persist.NewMapper(st, nil).Persist(ctx, plan)
	if err != nil {
		t.Fatalf("Persist: %v", err)
	}
	mine := testsupport.NewPersona(t, st, "owner-1", "Practice manager")
	theirs := testsupport.NewPersona(t, st, "owner-2", "Practice manager")

	if err := st.LinkPersonas(ctx, ref.ID, []int64{mine.ID, theirs.ID}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for foreign persona, got %v", err)
	}
	if err := st.LinkPersonas(ctx, ref.ID, []int64{mine.ID, theirs.ID + 100}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing persona, got %v", err)
	}
	if err := st.LinkPersonas(ctx, ref.ID, []int64{mine.ID, mine.ID}); err != nil {
		t.Fatalf("LinkPersonas: %v", err)
	}
	if err := st.LinkPersonas(ctx, ref.ID, []int64{mine.ID}); err != nil {
		t.Fatalf("relinking should be a no-op: %v", err)
	}
	linked, err := st.InterviewPersonas(ctx, ref.ID)
	if err != nil {
		t.Fatalf("InterviewPersonas: %v", err)
	}
	if len(linked) != 1 || linked[0].ID != mine.ID {
		t.Fatalf("unexpected links %+v", linked)
	}
	if err := st.LinkPersonas(ctx, ref.ID+100, []int64{mine.ID}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing interview, got %v", err)
	}
}

func TestCheckAssociations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	mine, err := st.CreateProject(ctx, "owner-1", "Clinic study")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	theirs, err := st.CreateProject(ctx, "owner-2", "Retail study")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	myPersona := testsupport.NewPersona(t, st, "owner-1", "Clinic manager")
	theirPersona := testsupport.NewPersona(t, st, "owner-2", "Store manager")
	missing := int64(999)

	tests := []struct {
		name       string
		projectID  *int64
		personaIDs []int64
		want       error
	}{
		{name: "owned project and persona", projectID: &mine.ID, personaIDs: []int64{myPersona.ID, myPersona.ID}},
		{name: "nothing to check"},
		{name: "missing project", projectID: &missing, want: services.ErrNotFound},
		{name: "foreign project", projectID: &theirs.ID, want: services.ErrValidation},
		{name: "missing persona", personaIDs: []int64{myPersona.ID, missing}, want: services.ErrNotFound},
		{name: "foreign persona", personaIDs: []int64{theirPersona.ID}, want: services.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.CheckAssociations(ctx, "owner-1", tt.projectID, tt.personaIDs)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("CheckAssociations: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateInterviewRejectsForeignProject(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	theirs, err := st.CreateProject(ctx, "owner-2", "Retail study")
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	plan, err := persist.BuildPlan(threeExcerptResult(), persist.PlanOptions{OwnerID: "owner-1", ProjectID: &theirs.ID})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if _, err := persist.NewMapper(st, nil).Persist(ctx, plan); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for foreign project, got %v", err)
	}
	counts, err := st.CountRows(ctx)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if counts.Interviews != 0 {
		t.Fatalf("expected no interview rows, got %d", counts.Interviews)
	}
}

func TestGetInterviewNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if _, err := st.GetInterview(context.Background(), 42); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOpenPathReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldnotes.db")
	st, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := st.CreatePersona(context.Background(), "owner-1", "Researcher", ""); err != nil {
		t.Fatalf("CreatePersona: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	personas, err := reopened.ListPersonas(context.Background(), "owner-1")
	if err != nil || len(personas) != 1 {
		t.Fatalf("expected persisted persona, got %v %v", personas, err)
	}
}
