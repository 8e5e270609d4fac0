package export

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/note2tex/constants"
	"github.com/joseph-ayodele/note2tex/internal/common"
	"github.com/joseph-ayodele/note2tex/internal/entity"
	"github.com/joseph-ayodele/note2tex/internal/repository"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExportUsageXLSX(t *testing.T) {
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, "", quiet())
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(ctx, db, quiet()))
	t.Cleanup(func() { repository.Close(db, quiet()) })

	users := repository.NewUserRepository(db, quiet())
	usage := repository.NewUsageRepository(db, quiet())
	projects := repository.NewProjectRepository(db, quiet())

	free, err := users.Create(ctx, "free@example.com", constants.PlanFree, nil)
	require.NoError(t, err)
	until := time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = users.Create(ctx, "paid@example.com", constants.PlanPremium, &until)
	require.NoError(t, err)

	_, err = usage.Increment(ctx, free.ID, "2030-05", 3)
	require.NoError(t, err)
	p, err := projects.Create(ctx, free.ID, "a", nil, 1)
	require.NoError(t, err)
	require.NoError(t, projects.FinishReady(ctx, p.ID, entity.Artifacts{}))
	_, err = projects.Create(ctx, free.ID, "b", nil, 1)
	require.NoError(t, err)

	svc := NewService(users, usage, projects, 10, quiet())
	data, err := svc.ExportUsageXLSX(ctx, "2030-05")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Usage", "Projects"}, f.GetSheetList())

	usageRows, err := f.GetRows("Usage")
	require.NoError(t, err)
	require.Len(t, usageRows, 3)
	assert.Equal(t, "Pages Used", usageRows[0][4])

	byEmail := map[string][]string{}
	for _, r := range usageRows[1:] {
		byEmail[r[1]] = r
	}
	assert.Equal(t, []string{free.ID.String(), "free@example.com", "free", "2030-05", "3", "10", "7"}, byEmail["free@example.com"])
	assert.Equal(t, "unlimited", byEmail["paid@example.com"][6])

	projRows, err := f.GetRows("Projects")
	require.NoError(t, err)
	for _, r := range projRows[1:] {
		if r[1] == "free@example.com" {
			assert.Equal(t, []string{"1", "1", "0", "2"}, r[2:])
		}
	}
}

func TestExportUsageXLSX_BadMonth(t *testing.T) {
	svc := NewService(nil, nil, nil, 10, quiet())
	_, err := svc.ExportUsageXLSX(context.Background(), "May 2030")
	assert.ErrorIs(t, err, common.ErrValidation)
}
