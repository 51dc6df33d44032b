package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/siddharthggs/mediggs-sub000/internal/app"
	_ "github.com/siddharthggs/mediggs-sub000/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
