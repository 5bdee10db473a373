// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package rest serves characterization, simulation and stored runs over HTTP.
package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mlnoga/sensornoise/internal/config"
	"github.com/mlnoga/sensornoise/internal/log"
	"github.com/mlnoga/sensornoise/internal/pipeline"
	"github.com/mlnoga/sensornoise/internal/simulate"
	"github.com/mlnoga/sensornoise/internal/store"
	"github.com/vmihailenco/msgpack/v5"
)

// Default and maximum number of runs listed per request
const (
	defaultRunLimit = 20
	maxRunLimit     = 1000
)

// HTTP front end for the pipeline. Requests start from a copy of the base
// configuration and override parts of it
type Server struct {
	Config *config.Config
	Store  *store.Store // nil disables the runs endpoints and simulation from stored runs
}

func NewServer(cfg *config.Config, st *store.Store) *Server {
	return &Server{Config: cfg, Store: st}
}

// Returns the routes of the API
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/characterize", s.postCharacterize)
			v1.POST("/simulate", s.postSimulate)
			v1.GET("/runs", s.getRuns)
			v1.GET("/runs/:id", s.getRun)
		}
	}
	return r
}

// Listens on the configured address until the server fails
func (s *Server) Serve() error {
	log.Printf("Listening on %s", s.Config.Server.Address)
	return s.Router().Run(s.Config.Server.Address)
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Paths from requests must be relative and stay below the working directory
func isPathAllowed(path string) bool {
	return path != "" && filepath.IsLocal(path)
}

// Writes data as JSON, or as MessagePack if the query asks for format=msgpack
func writeResponse(c *gin.Context, status int, data any) {
	if c.Query("format") != "msgpack" {
		c.JSON(status, data)
		return
	}
	c.Status(status)
	c.Header("Content-Type", "application/x-msgpack")
	encoder := msgpack.NewEncoder(c.Writer)
	encoder.SetCustomStructTag("json")
	if err := encoder.Encode(data); err != nil {
		log.Errorf("Error encoding msgpack response: %s", err.Error())
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// Overrides of the dataset and fit configuration for one characterization
type postCharacterizeArgs struct {
	Root            string  `json:"root"`
	Sensitivities   []int   `json:"sensitivities"`
	NumImages       int     `json:"numImages"`
	Height          int     `json:"height"`
	Width           int     `json:"width"`
	CFA             string  `json:"cfa"`
	Format          string  `json:"format"`
	Threshold       float64 `json:"threshold"`
	IgnoreUnsampled *bool   `json:"ignoreUnsampled"`
	PerChannelSNR   *bool   `json:"perChannelSNR"`
}

func (a *postCharacterizeArgs) apply(cfg *config.Config) error {
	if a.Root != "" {
		if !isPathAllowed(a.Root) {
			return fmt.Errorf("dataset root %q not allowed", a.Root)
		}
		cfg.Dataset.Root = a.Root
	}
	if len(a.Sensitivities) > 0 {
		cfg.Dataset.Sensitivities = a.Sensitivities
	}
	if a.NumImages > 0 {
		cfg.Dataset.NumImages = a.NumImages
	}
	if a.Height > 0 && a.Width > 0 {
		cfg.Dataset.Height, cfg.Dataset.Width = a.Height, a.Width
		cfg.Dataset.Crop = config.Crop{}
	}
	if a.CFA != "" {
		cfg.Dataset.CFA = a.CFA
	}
	if a.Format != "" {
		cfg.Dataset.Format = a.Format
	}
	if a.Threshold > 0 {
		cfg.Fit.Threshold = a.Threshold
	}
	if a.IgnoreUnsampled != nil {
		cfg.Fit.IgnoreUnsampled = *a.IgnoreUnsampled
	}
	if a.PerChannelSNR != nil {
		cfg.SNR.PerChannel = *a.PerChannelSNR
	}
	return cfg.Validate()
}

// Runs a characterization, streaming progress as plain text. The fitted
// parameters are printed as JSON at the end
func (s *Server) postCharacterize(c *gin.Context) {
	var args postCharacterizeArgs
	if err := c.ShouldBindJSON(&args); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return
	}
	cfg := *s.Config
	if err := args.apply(&cfg); err != nil {
		badRequest(c, err)
		return
	}

	logWriter := c.Writer
	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	serverLog := log.Writer()
	defer serverLog.Flush()
	ctx := pipeline.NewContext(io.MultiWriter(logWriter, serverLog), cfg.Processing.MemoryPercent, cfg.Processing.MaxThreads)
	ch, err := pipeline.Characterize(c.Request.Context(), ctx, &cfg)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	} else {
		result := struct {
			ID        string `json:"id"`
			Gain      any    `json:"gain"`
			ReadNoise any    `json:"readNoise"`
		}{ch.ID, ch.Gain, ch.ReadNoise}
		printArgs(logWriter, "Result:\n", "\n", result)
	}
	logWriter.Flush()
}

// Parameters of one simulation. Noise parameters are either given directly
// or taken from a stored run
type postSimulateArgs struct {
	Parameters *simulate.Parameters `json:"parameters"`
	RunID      string               `json:"runId"`
	NumImages  int                  `json:"numImages"`
	Height     int                  `json:"height"`
	Width      int                  `json:"width"`
	Photons    []uint32             `json:"photons"`
	Seed       uint64               `json:"seed"`
	FullWell   float64              `json:"fullWell"`
	OutputDir  string               `json:"outputDir"`
}

func (s *Server) simulationParameters(c *gin.Context, args *postSimulateArgs, fullWell float64) (*simulate.Parameters, int, error) {
	switch {
	case args.Parameters != nil && args.RunID != "":
		return nil, http.StatusBadRequest, errors.New("give either parameters or runId")
	case args.Parameters != nil:
		return args.Parameters, 0, nil
	case args.RunID == "":
		return nil, http.StatusBadRequest, errors.New("missing parameters or runId")
	case s.Store == nil:
		return nil, http.StatusServiceUnavailable, errors.New("no run database configured")
	}
	run, err := s.Store.GetRun(c.Request.Context(), args.RunID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusNotFound, err
	} else if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	p, err := pipeline.ParametersFromFit(run.Gain, run.ReadNoise, fullWell)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return p, 0, nil
}

// Simulates noisy captures and returns their statistics
func (s *Server) postSimulate(c *gin.Context) {
	var args postSimulateArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		badRequest(c, err)
		return
	}
	cfg := *s.Config
	sc := &cfg.Simulate
	if args.NumImages > 0 {
		sc.NumImages = args.NumImages
	}
	if args.Height > 0 && args.Width > 0 {
		sc.Height, sc.Width = args.Height, args.Width
	}
	if len(args.Photons) > 0 {
		sc.Photons = args.Photons
	}
	if args.Seed != 0 {
		sc.Seed = args.Seed
	}
	if args.FullWell > 0 {
		sc.FullWell = args.FullWell
	}
	sc.OutputDir = ""
	if args.OutputDir != "" {
		if !isPathAllowed(args.OutputDir) {
			badRequest(c, fmt.Errorf("output directory %q not allowed", args.OutputDir))
			return
		}
		sc.OutputDir = args.OutputDir
	}
	if err := cfg.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	p, status, err := s.simulationParameters(c, &args, sc.FullWell)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if err := p.Validate(len(sc.Photons)); err != nil {
		badRequest(c, err)
		return
	}

	serverLog := log.Writer()
	defer serverLog.Flush()
	ctx := pipeline.NewContext(serverLog, cfg.Processing.MemoryPercent, cfg.Processing.MaxThreads)
	res, err := pipeline.Simulate(ctx, &cfg, p, nil)
	var budgetErr *pipeline.MemoryBudgetError
	if errors.As(err, &budgetErr) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	writeResponse(c, http.StatusOK, res)
}

func (s *Server) getRuns(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no run database configured"})
		return
	}
	limit := defaultRunLimit
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > maxRunLimit {
			badRequest(c, fmt.Errorf("limit must be in [1,%d]", maxRunLimit))
			return
		}
		limit = n
	}
	runs, err := s.Store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	writeResponse(c, http.StatusOK, runs)
}

func (s *Server) getRun(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no run database configured"})
		return
	}
	run, err := s.Store.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	writeResponse(c, http.StatusOK, run)
}
