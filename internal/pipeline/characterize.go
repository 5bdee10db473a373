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

package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mlnoga/sensornoise/internal/cache"
	"github.com/mlnoga/sensornoise/internal/config"
	"github.com/mlnoga/sensornoise/internal/fit"
	"github.com/mlnoga/sensornoise/internal/frames"
	"github.com/mlnoga/sensornoise/internal/raw"
	"github.com/mlnoga/sensornoise/internal/snr"
	"github.com/mlnoga/sensornoise/internal/stats"
	"github.com/mlnoga/sensornoise/internal/store"
)

// Result of characterizing a calibration dataset
type Characterization struct {
	ID            string            `json:"id"`
	Created       time.Time         `json:"created"`
	Dataset       string            `json:"dataset"`
	CFA           string            `json:"cfa"`
	Threshold     float64           `json:"threshold"`
	Sensitivities []int             `json:"sensitivities"`
	Gain          *fit.GainFit      `json:"gain"`
	ReadNoise     *fit.ReadNoiseFit `json:"readNoise"`
	SNR           []*snr.Curve      `json:"snr"`                  // per sensitivity, over all channels
	ChannelSNR    [][]*snr.Curve    `json:"channelSNR,omitempty"` // [channel][sensitivity], CFA-masked
	Dark          []DarkDiagnostics `json:"dark"`                 // per sensitivity
	Files         []string          `json:"files,omitempty"`      // report files written

	WhiteMean     *frames.StatisticMap `json:"-"`
	WhiteVariance *frames.StatisticMap `json:"-"`
	DarkMean      *frames.StatisticMap `json:"-"`
	DarkVariance  *frames.StatisticMap `json:"-"`
}

// Inspects one sensitivity setting of a loaded category, before its frames are released
type frameInspector func(sensitivity int, img *frames.ImageStack)

// Estimates the peak memory use of characterizing the configured dataset: the frames
// of one sensitivity setting in monochrome and split form, plus the statistic maps
// of both categories for all sensitivities, twice while joining
func EstimateCharacterizeBytes(cfg *config.Config) int64 {
	d := &cfg.Dataset
	h, w := d.Height, d.Width
	frameBytes := int64(h) * int64(w) * int64(d.NumImages)
	peak := frameBytes * (1 + frames.NumChannels)
	if !d.Crop.IsZero() {
		h, w = d.Crop.RowMax-d.Crop.RowMin, d.Crop.ColMax-d.Crop.ColMin
		peak = frameBytes + int64(h)*int64(w)*int64(d.NumImages)*(1+frames.NumChannels)
	}
	mapBytes := int64(h) * int64(w) * frames.NumChannels * 8
	return peak + mapBytes*2*2*2*int64(len(d.Sensitivities))
}

// Characterizes the dataset described by cfg: loads the dark and illuminated captures
// one sensitivity setting at a time, computes per-pixel mean and variance, fits gain and
// intercept per channel and sensitivity, then read and ADC noise per channel, and derives
// SNR curves and dark frame diagnostics. Optionally caches statistic maps, writes reports
// and stores the fitted parameters, as configured
func Characterize(ctx context.Context, c *Context, cfg *config.Config) (*Characterization, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := c.CheckMemory("characterize", EstimateCharacterizeBytes(cfg)); err != nil {
		return nil, err
	}
	cfa, _ := frames.ParseCFA(cfg.Dataset.CFA)
	format, _ := raw.ParseFormat(cfg.Dataset.Format)
	layout := raw.Layout{Height: cfg.Dataset.Height, Width: cfg.Dataset.Width, NumImages: cfg.Dataset.NumImages, Format: format}

	var mapCache *cache.Cache
	if cfg.Cache.Dir != "" {
		var err error
		if mapCache, err = cache.New(cfg.Cache.Dir); err != nil {
			return nil, err
		}
	}

	ch := &Characterization{
		ID:            uuid.NewString(),
		Created:       time.Now().UTC(),
		Dataset:       cfg.Dataset.Root,
		CFA:           cfa.Name,
		Threshold:     cfg.Fit.Threshold,
		Sensitivities: append([]int(nil), cfg.Dataset.Sensitivities...),
	}
	start := time.Now()
	fmt.Fprintf(c.Log, "Characterizing %s with %d sensitivities, %d frames of %dx%d each, CFA %s\n",
		cfg.Dataset.Root, len(ch.Sensitivities), layout.NumImages, layout.Height, layout.Width, cfa.Name)

	ch.Dark = make([]DarkDiagnostics, len(ch.Sensitivities))
	inspectDark := func(s int, img *frames.ImageStack) {
		ch.Dark[s] = inspectDarkFrames(c, img)
	}
	var err error
	ch.DarkMean, ch.DarkVariance, err = loadCategory(ctx, c, cfg, cfg.Dataset.DarkPrefix, layout, cfa, mapCache, inspectDark)
	if err != nil {
		return nil, err
	}
	ch.WhiteMean, ch.WhiteVariance, err = loadCategory(ctx, c, cfg, cfg.Dataset.WhitePrefix, layout, cfa, mapCache, nil)
	raw.ClearPools() // frame buffers are not needed past loading
	if err != nil {
		return nil, err
	}
	summarizeDark(ch, &cfa)

	opts := fit.Options{Threshold: cfg.Fit.Threshold, IgnoreUnsampled: cfg.Fit.IgnoreUnsampled, CFA: &cfa, MaxThreads: c.MaxThreads}
	if ch.Gain, err = fit.FitVarianceMean(ch.WhiteMean, ch.WhiteVariance, opts); err != nil {
		return nil, fmt.Errorf("fitting variance over mean: %w", err)
	}
	if ch.ReadNoise, err = fit.FitReadNoise(ch.Gain); err != nil {
		return nil, fmt.Errorf("fitting read noise: %w", err)
	}
	if ch.SNR, err = snr.Curves(ch.WhiteMean, ch.WhiteVariance); err != nil {
		return nil, err
	}
	if cfg.SNR.PerChannel {
		if ch.ChannelSNR, err = snr.ChannelCurves(ch.WhiteMean, ch.WhiteVariance, &cfa); err != nil {
			return nil, err
		}
	}
	printFits(c, ch)

	if cfg.Report.Dir != "" {
		if ch.Files, err = writeReports(c, cfg, ch); err != nil {
			return nil, err
		}
	}
	if cfg.Store.Path != "" {
		if err := saveRun(ctx, cfg.Store.Path, ch); err != nil {
			return nil, err
		}
		fmt.Fprintf(c.Log, "Stored run %s in %s\n", ch.ID, cfg.Store.Path)
	}
	fmt.Fprintf(c.Log, "Characterization done after %v\n", time.Since(start))
	return ch, nil
}

// Computes mean and variance maps of one capture category over all configured sensitivities.
// Frames are loaded, split and reduced one sensitivity setting at a time, so only one
// setting's frames are held in memory. Maps are taken from and stored into the cache if given
func loadCategory(ctx context.Context, c *Context, cfg *config.Config, prefix string, layout raw.Layout,
	cfa frames.CFA, mapCache *cache.Cache, inspect frameInspector) (mean, variance *frames.StatisticMap, err error) {
	sens := cfg.Dataset.Sensitivities
	means := make([]*frames.StatisticMap, len(sens))
	variances := make([]*frames.StatisticMap, len(sens))
	for s, sensitivity := range sens {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		dir := filepath.Join(cfg.Dataset.Root, raw.FolderName(prefix, sensitivity))
		key := cacheKey(dir, cfg, cfa, layout)
		if mapCache != nil && key != "" {
			m, v, ok, err := mapCache.Load(key)
			if err != nil {
				fmt.Fprintf(c.Log, "Ignoring cache entry for %s: %s\n", dir, err.Error())
			} else if ok {
				fmt.Fprintf(c.Log, "Using cached statistics for %s\n", dir)
				means[s], variances[s] = m, v
				if inspect != nil {
					inspect(s, nil)
				}
				continue
			}
		}

		img, err := raw.LoadFolder(dir, layout, c.MaxThreads)
		if err != nil {
			return nil, nil, err
		}
		if crop := cfg.Dataset.Crop; !crop.IsZero() {
			if img, err = img.Crop(crop.ColMin, crop.ColMax, crop.RowMin, crop.RowMax); err != nil {
				return nil, nil, err
			}
		}
		if inspect != nil {
			inspect(s, img)
		}
		cs, err := frames.SplitChannels(img, cfa)
		if err != nil {
			return nil, nil, err
		}
		if means[s], variances[s], err = stats.MeanVar(cs, c.MaxThreads); err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(c.Log, "Loaded %s: %d frames of %dx%d\n", dir, cs.Repeats, cs.Height, cs.Width)

		if mapCache != nil && key != "" {
			if err := mapCache.Save(key, means[s], variances[s]); err != nil {
				fmt.Fprintf(c.Log, "Unable to cache statistics for %s: %s\n", dir, err.Error())
			}
		}
	}
	if mean, err = frames.JoinStatisticMaps(means); err != nil {
		return nil, nil, err
	}
	if variance, err = frames.JoinStatisticMaps(variances); err != nil {
		return nil, nil, err
	}
	return mean, variance, nil
}

// Derives the cache key of a dataset folder from the identity of the frames it will
// contribute and the processing settings. Returns "" if the folder cannot be fingerprinted
func cacheKey(dir string, cfg *config.Config, cfa frames.CFA, layout raw.Layout) string {
	names, err := raw.ListFrames(dir)
	if err != nil || len(names) < layout.NumImages {
		return ""
	}
	fp, err := cache.Fingerprint(names[:layout.NumImages])
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return cache.Key(abs, fp, cfa.Name, cfg.Dataset.Format,
		fmt.Sprintf("%dx%dx%d", layout.Height, layout.Width, layout.NumImages),
		fmt.Sprintf("%+v", cfg.Dataset.Crop))
}

// Logs the fitted parameters per sensitivity and channel
func printFits(c *Context, ch *Characterization) {
	channels, _ := ch.Gain.Dims()
	for s, sens := range ch.Sensitivities {
		fmt.Fprintf(c.Log, "Sensitivity %2d:", sens)
		for cc := 0; cc < channels; cc++ {
			l := ch.Gain.Line(cc, s)
			fmt.Fprintf(c.Log, "  %s gain %.4f delta %.4f R2 %.3f", frames.ChannelNames[cc%frames.NumChannels], l.Slope, l.Intercept, l.RSquared)
		}
		fmt.Fprintf(c.Log, "\n")
	}
	for cc := 0; cc < channels; cc++ {
		fmt.Fprintf(c.Log, "%s read noise %.4f ADC noise %.4f R2 %.3f\n", frames.ChannelNames[cc%frames.NumChannels],
			ch.ReadNoise.SigmaRead[cc], ch.ReadNoise.SigmaADC[cc], ch.ReadNoise.RSquared[cc])
	}
}

func saveRun(ctx context.Context, path string, ch *Characterization) error {
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.SaveRun(ctx, &store.Run{
		RunSummary: store.RunSummary{
			ID:            ch.ID,
			Created:       ch.Created,
			Dataset:       ch.Dataset,
			CFA:           ch.CFA,
			Threshold:     ch.Threshold,
			Sensitivities: ch.Sensitivities,
		},
		Gain:      ch.Gain,
		ReadNoise: ch.ReadNoise,
	})
}
