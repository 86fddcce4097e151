// Command probe inspects a local media file the way the ingest pipeline
// would: it runs ffprobe over it and prints the extracted metadata together
// with the ladder rungs the file would be transcoded into.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/clipstream/vod-api/config"
	"github.com/clipstream/vod-api/video"
)

func main() {
	ladderPath := flag.String("quality-ladder", "", "YAML file describing the transcode ladder, defaults to the built-in ladder")
	skipUpscale := flag.Bool("skip-upscale", true, "Drop ladder rungs above the source resolution")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <media-file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	prober := video.Probe{AllowedFormats: config.DefaultAllowedFormats}
	info, err := prober.ProbeFile("probe", path)
	if err != nil {
		log.Fatal(err)
	}

	ladder := video.DefaultQualityLadder
	if *ladderPath != "" {
		if ladder, err = video.LoadQualityLadder(*ladderPath); err != nil {
			log.Fatal(err)
		}
	}

	out := struct {
		Media  video.MediaInfo        `json:"media"`
		Ladder []video.QualityProfile `json:"ladder"`
	}{
		Media:  info,
		Ladder: video.SelectLadder(ladder, info.Width, info.Height, *skipUpscale),
	}
	doc, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(doc))
}
