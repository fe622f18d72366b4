// Copyright (C) 2021 The stcal-go authors
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

package rest

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tapastro/stcal/internal/cube"
	"github.com/tapastro/stcal/internal/ramp"
	"github.com/tapastro/stcal/internal/sim"
	"github.com/tapastro/stcal/internal/stats"
)

// A processing job posted to the API: either an inline ramp cube to fit, or
// a simulation request. Options apply to both.
type Job struct {
	Cube     *cube.Cube   `json:"cube"`
	Simulate *sim.Params  `json:"simulate"`
	Options  ramp.Options `json:"options"`
}

// Serve APIs via HTTP
func Serve(port int64) {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/job", postJob)
		}
	}
	r.Run(fmt.Sprintf(":%d", port))
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

// Runs a posted job, streaming the processing log as plain text
func postJob(c *gin.Context) {
	var job Job
	if err := c.ShouldBind(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if job.Options.Algorithm == "" {
		job.Options = ramp.DefaultOptions()
	}

	logWriter := c.Writer
	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := RunJob(&job, logWriter); err != nil {
		fmt.Fprintf(logWriter, "Error running job: %s\n", err.Error())
	}
	logWriter.(http.Flusher).Flush()
}

// RunJob executes a job against the given log writer. Shared between the
// HTTP handler and the command line runner.
func RunJob(job *Job, logWriter io.Writer) error {
	if job.Simulate != nil {
		_, err := sim.Run(*job.Simulate, &job.Options, logWriter)
		return err
	}
	if job.Cube == nil {
		return fmt.Errorf("job carries neither a cube nor a simulation request")
	}

	img, integ, opt, err := ramp.Process(job.Cube, &job.Options, logWriter)
	if err != nil {
		return err
	}
	mean, stdDev := stats.MeanStdDev(img.Data)
	fmt.Fprintf(logWriter, "Slope image: mean %.6g stddev %.6g e-/s over %dx%d pixels\n",
		mean, stdDev, img.NRows, img.NCols)
	if integ != nil {
		fmt.Fprintf(logWriter, "Integration products: %d integrations\n", integ.NInts)
	}
	if opt != nil {
		fmt.Fprintf(logWriter, "Optional products: %d segment plane(s), %d cosmic ray plane(s)\n",
			opt.MaxSeg, opt.MaxCR)
	}
	return nil
}
