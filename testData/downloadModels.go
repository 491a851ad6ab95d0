package main

import (
	"os"

	"github.com/embedworks/embedprep"
	"github.com/embedworks/embedprep/util"
)

// download the models used by the integration tests.

type downloadModel struct {
	name         string
	onnxFilePath string
}

var models = []downloadModel{
	{"sentence-transformers/all-MiniLM-L6-v2", "onnx/model.onnx"},
}

func main() {
	if ok, err := util.FileExists("./models"); err == nil {
		if !ok {
			err = os.MkdirAll("./models", os.ModePerm)
			if err != nil {
				panic(err)
			}

			for _, model := range models {
				downloadOptions := embedprep.NewDownloadOptions()
				if model.onnxFilePath != "" {
					downloadOptions.OnnxFilePath = model.onnxFilePath
				}
				_, dlErr := embedprep.DownloadModel(model.name, "./models", downloadOptions)
				if dlErr != nil {
					panic(dlErr)
				}
			}
		}
	} else {
		panic(err)
	}
}
