package tencent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/regions"
	tmt "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tmt/v20180321"
)

var logger = log.With().Str("component", "tencent").Logger()

// ErrSameLanguage means the text is already in the target language.
var ErrSameLanguage = errors.New("text is already in the target language")

// batchChars keeps each TextTranslateBatch call under the service limit.
const batchChars = 2000

type tmtAPI interface {
	LanguageDetectWithContext(ctx context.Context, request *tmt.LanguageDetectRequest) (*tmt.LanguageDetectResponse, error)
	TextTranslateBatchWithContext(ctx context.Context, request *tmt.TextTranslateBatchRequest) (*tmt.TextTranslateBatchResponse, error)
}

// Translator translates lyric lines with Tencent Machine Translation.
type Translator struct {
	api    tmtAPI
	target string
}

// NewTranslator creates a TMT client. target defaults to "zh".
func NewTranslator(secretID, secretKey, region, target string) (*Translator, error) {
	credential := common.NewCredential(secretID, secretKey)

	cpf := profile.NewClientProfile()
	cpf.HttpProfile.ReqMethod = "POST"
	cpf.HttpProfile.ReqTimeout = 10

	if region == "" {
		region = regions.Guangzhou
	}
	client, err := tmt.NewClient(credential, region, cpf)
	if err != nil {
		return nil, fmt.Errorf("new tencent tmt client: %w", err)
	}
	if target == "" {
		target = "zh"
	}
	return &Translator{api: client, target: target}, nil
}

// Translate returns one translation per input line. Empty lines stay empty.
func (t *Translator) Translate(ctx context.Context, lines []string) ([]string, error) {
	var sample strings.Builder
	for _, l := range lines {
		if sample.Len() > 200 {
			break
		}
		sample.WriteString(l)
		sample.WriteString(" ")
	}
	if strings.TrimSpace(sample.String()) == "" {
		return make([]string, len(lines)), nil
	}

	detect := tmt.NewLanguageDetectRequest()
	detect.Text = common.StringPtr(sample.String())
	detect.ProjectId = common.Int64Ptr(0)
	detected, err := t.api.LanguageDetectWithContext(ctx, detect)
	if err != nil {
		return nil, fmt.Errorf("language detect: %w", err)
	}
	source := *detected.Response.Lang
	if source == t.target {
		return nil, ErrSameLanguage
	}

	out := make([]string, len(lines))
	var (
		batch   []*string
		indexes []int
		size    int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		req := tmt.NewTextTranslateBatchRequest()
		req.Source = common.StringPtr(source)
		req.Target = common.StringPtr(t.target)
		req.ProjectId = common.Int64Ptr(0)
		req.SourceTextList = batch
		resp, err := t.api.TextTranslateBatchWithContext(ctx, req)
		if err != nil {
			return fmt.Errorf("text translate batch: %w", err)
		}
		if len(resp.Response.TargetTextList) != len(batch) {
			return fmt.Errorf("text translate batch returned %d lines for %d", len(resp.Response.TargetTextList), len(batch))
		}
		for i, text := range resp.Response.TargetTextList {
			if text != nil {
				out[indexes[i]] = *text
			}
		}
		batch, indexes, size = nil, nil, 0
		return nil
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := utf8.RuneCountInString(line)
		if size+n > batchChars {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, common.StringPtr(line))
		indexes = append(indexes, i)
		size += n
	}
	if err := flush(); err != nil {
		return nil, err
	}

	logger.Debug().Str("source", source).Str("target", t.target).Int("lines", len(lines)).Msg("Translated lyrics")
	return out, nil
}
