package backend

import (
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"

	"github.com/embedworks/embedprep/options"
)

// GoModel runs the onnx graph with the pure Go gonnx backend. Slower than
// onnxruntime but needs no shared library.
type GoModel struct {
	Session *gonnx.Model
}

func createGoModelBackend(model *Model, _ *options.Options) error {
	session, err := gonnx.NewModelFromBytes(model.OnnxBytes)
	if err != nil {
		return err
	}

	inputs, outputs := loadInputOutputMetaGo(session)

	model.GoModel = &GoModel{Session: session}
	model.InputsMeta = inputs
	model.OutputsMeta = outputs
	return nil
}

func loadInputOutputMetaGo(session *gonnx.Model) ([]InputOutputInfo, []InputOutputInfo) {
	var inputs, outputs []InputOutputInfo

	inputShapes := session.InputShapes()
	for _, name := range session.InputNames() {
		shape := inputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, dim := range shape {
			if dim.IsDynamic {
				dimensions[i] = -1
			} else {
				dimensions[i] = dim.Size
			}
		}
		inputs = append(inputs, InputOutputInfo{
			Name:       name,
			Dimensions: dimensions,
		})
	}
	outputShapes := session.OutputShapes()
	for _, name := range session.OutputNames() {
		shape := outputShapes[name]
		dimensions := make([]int64, len(shape))
		for i, dim := range shape {
			if dim.IsDynamic {
				dimensions[i] = -1
			} else {
				dimensions[i] = dim.Size
			}
		}
		outputs = append(outputs, InputOutputInfo{
			Name:       name,
			Dimensions: dimensions,
		})
	}
	return inputs, outputs
}

func createInputTensorsGo(batch *PipelineBatch, inputsMeta []InputOutputInfo) error {
	batchSize := len(batch.Input)
	tensorSize := batchSize * batch.MaxSequenceLength

	inputMap := map[string]tensor.Tensor{}
	paddingMasks := make([][]bool, batchSize)

	for _, inputMeta := range inputsMeta {
		backingSlice := make([]int64, tensorSize)
		counter := 0

		for j, input := range batch.Input {
			inputPaddingMask := make([]bool, batch.MaxSequenceLength)
			length := len(input.TokenIDs)
			for k := 0; k < batch.MaxSequenceLength; k++ {
				if k+1 <= length {
					switch inputMeta.Name {
					case "input_ids":
						backingSlice[counter] = int64(input.TokenIDs[k])
						inputPaddingMask[k] = true
					case "token_type_ids":
						backingSlice[counter] = int64(input.TypeIDs[k])
					case "attention_mask":
						backingSlice[counter] = int64(input.AttentionMask[k])
					default:
						return fmt.Errorf("input %s not recognized", inputMeta.Name)
					}
				} else {
					backingSlice[counter] = 0 // pad with zero
				}
				counter++
			}

			if inputMeta.Name == "input_ids" {
				paddingMasks[j] = inputPaddingMask
			}
		}
		inputMap[inputMeta.Name] = tensor.New(
			tensor.WithShape(batchSize, batch.MaxSequenceLength),
			tensor.WithBacking(backingSlice),
		)
	}
	batch.InputValues = inputMap
	batch.PaddingMask = paddingMasks
	batch.DestroyInputs = func() error {
		return nil
	}

	return nil
}

func runGoSessionOnBatch(batch *PipelineBatch, p *BasePipeline) error {
	outputTensors, err := p.Model.GoModel.Session.Run(batch.InputValues.(map[string]tensor.Tensor))
	if err != nil {
		return err
	}

	convertedOutput := make([]OutputArray, len(p.Model.OutputsMeta))
	for i, meta := range p.Model.OutputsMeta {
		outputTensor, ok := outputTensors[meta.Name]
		if !ok {
			return fmt.Errorf("output %s missing from the session results", meta.Name)
		}
		flatData, castOk := outputTensor.Data().([]float32)
		if !castOk {
			return fmt.Errorf("output %s is not a float32 tensor", meta.Name)
		}
		convertedOutput[i] = ReshapeOutput(flatData, meta, batch.PaddingMask, batch.MaxSequenceLength)
	}

	batch.OutputValues = convertedOutput
	return nil
}
