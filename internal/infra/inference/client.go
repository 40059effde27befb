// Package inference — HTTP-клиент ONNX-сайдкара, который крутит
// transformers-пайплайны. Сервис не грузит модели в свой процесс: весь ML
// живёт в сайдкаре, сюда уходит только JSON через POST /pipeline.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

// requestTimeout — потолок одного вызова. Первая классификация после старта
// сайдкара включает скачивание и загрузку весов, поэтому лимит щедрый.
const requestTimeout = 60 * time.Second

// maxResponseBytes ограничивает чтение тела ответа.
const maxResponseBytes = 1 << 20

// Request — тело POST /pipeline. Поля зеркалят аргументы transformers:
// для text-classification значим topK, для zero-shot — кандидаты и шаблон
// гипотезы. Пустые поля не сериализуются.
type Request struct {
	Task               string   `json:"task"`
	Model              string   `json:"model"`
	Text               string   `json:"text"`
	TopK               int      `json:"topK,omitempty"`
	WeightFile         string   `json:"weightFile,omitempty"`
	Subfolder          string   `json:"subfolder,omitempty"`
	DType              string   `json:"dtype,omitempty"`
	CacheDir           string   `json:"cacheDir,omitempty"`
	CandidateLabels    []string `json:"candidateLabels,omitempty"`
	HypothesisTemplate string   `json:"hypothesisTemplate,omitempty"`
	MultiLabel         bool     `json:"multiLabel,omitempty"`
}

// Prediction — одна пара метка/уверенность из ответа сайдкара.
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Client ходит в сайдкар. Безопасен для конкурентного использования.
type Client struct {
	base string
	http *http.Client
}

// NewClient строит клиента для baseURL (без завершающего слэша).
func NewClient(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: requestTimeout},
	}
}

// Classify выполняет один вызов пайплайна и возвращает предсказания в порядке
// убывания уверенности — как их отдаёт transformers. Ошибки сети, не-200 и
// нечитаемые тела заворачиваются; решает, что с ними делать, вызывающий.
func (c *Client) Classify(ctx context.Context, req Request) ([]Prediction, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal pipeline request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/pipeline", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build pipeline request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "call inference sidecar")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read sidecar response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("inference sidecar: %s: %s", resp.Status, bodySnippet(data))
	}
	return decodePredictions(req.Task, data)
}

// decodePredictions разбирает task-зависимую форму ответа.
//
// text-classification: плоский список [{label,score}] либо список списков
// (так transformers отвечает на батч — берём первый элемент).
// zero-shot: объект {labels:[...], scores:[...]} с параллельными массивами.
func decodePredictions(task string, data []byte) ([]Prediction, error) {
	if task == "zero-shot-classification" {
		var zs struct {
			Labels []string  `json:"labels"`
			Scores []float64 `json:"scores"`
		}
		if err := json.Unmarshal(data, &zs); err != nil {
			return nil, errors.Wrap(err, "decode zero-shot response")
		}
		if len(zs.Labels) != len(zs.Scores) {
			return nil, errors.Errorf("zero-shot response: %d labels vs %d scores", len(zs.Labels), len(zs.Scores))
		}
		out := make([]Prediction, len(zs.Labels))
		for i := range zs.Labels {
			out[i] = Prediction{Label: zs.Labels[i], Score: zs.Scores[i]}
		}
		return out, nil
	}

	var flat []Prediction
	if err := json.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}
	var nested [][]Prediction
	if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
		return nested[0], nil
	}
	return nil, errors.Errorf("unexpected pipeline response: %s", bodySnippet(data))
}

// bodySnippet обрезает тело для сообщения об ошибке.
func bodySnippet(data []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(data))
	if len(s) > limit {
		return s[:limit] + "…"
	}
	return s
}
