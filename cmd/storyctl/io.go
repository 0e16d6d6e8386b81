package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"tale-weaver-api/internal/domain/entity"
	"tale-weaver-api/internal/interfaces/http/dto"
	apperrors "tale-weaver-api/pkg/errors"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var stdin io.Reader = os.Stdin

// loadRequest 读取 YAML 或 JSON 请求文件（JSON 是 YAML 的子集）
func loadRequest(path string) (*entity.GenerationRequest, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	return parseRequest(raw)
}

func parseRequest(raw []byte) (*entity.GenerationRequest, error) {
	var body dto.GenerateStoryRequest
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	req := body.ToEntity()
	if err := req.Check(); err != nil {
		return nil, fmt.Errorf("invalid request: %s", apperrors.AsAppError(err).Detail)
	}
	return req, nil
}

// render 以 JSON 或 YAML 输出；YAML 沿用 JSON 字段名
func render(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
