package resilience

import "github.com/agentrelay/agentrelay/pkg/models"

// degradedMessages holds the user-facing notices returned with degraded
// responses, keyed by locale then error category. The "default" entry covers
// categories without a specific message.
var degradedMessages = map[string]map[string]string{
	"en": {
		"default":                            "Some features are temporarily limited. Here is the best available answer.",
		string(models.ErrCategoryUnavailable): "The requested capability is temporarily unavailable, so a simplified answer is provided.",
		string(models.ErrCategoryTimeout):     "The request took too long, so a simplified answer is provided.",
		string(models.ErrCategoryRateLimited): "The service is busy right now, so a simplified answer is provided.",
	},
	"ja": {
		"default":                            "一部の機能が一時的に制限されています。現在利用可能な範囲で回答します。",
		string(models.ErrCategoryUnavailable): "要求された機能は一時的に利用できないため、簡易的な回答を提供します。",
		string(models.ErrCategoryTimeout):     "処理に時間がかかりすぎたため、簡易的な回答を提供します。",
		string(models.ErrCategoryRateLimited): "現在サービスが混雑しているため、簡易的な回答を提供します。",
	},
	"ko": {
		"default":                            "일부 기능이 일시적으로 제한되어 있습니다. 현재 가능한 범위에서 답변합니다.",
		string(models.ErrCategoryUnavailable): "요청한 기능을 일시적으로 사용할 수 없어 간단한 답변을 제공합니다.",
		string(models.ErrCategoryTimeout):     "처리 시간이 너무 오래 걸려 간단한 답변을 제공합니다.",
		string(models.ErrCategoryRateLimited): "현재 서비스가 혼잡하여 간단한 답변을 제공합니다.",
	},
	"zh": {
		"default":                            "部分功能暂时受限。以下是当前可提供的最佳回答。",
		string(models.ErrCategoryUnavailable): "所请求的功能暂时不可用，已提供简化的回答。",
		string(models.ErrCategoryTimeout):     "请求处理超时，已提供简化的回答。",
		string(models.ErrCategoryRateLimited): "服务当前繁忙，已提供简化的回答。",
	},
	"es": {
		"default":                            "Algunas funciones están limitadas temporalmente. Esta es la mejor respuesta disponible.",
		string(models.ErrCategoryUnavailable): "La función solicitada no está disponible temporalmente, así que se ofrece una respuesta simplificada.",
		string(models.ErrCategoryTimeout):     "La solicitud tardó demasiado, así que se ofrece una respuesta simplificada.",
		string(models.ErrCategoryRateLimited): "El servicio está ocupado en este momento, así que se ofrece una respuesta simplificada.",
	},
	"fr": {
		"default":                            "Certaines fonctionnalités sont temporairement limitées. Voici la meilleure réponse disponible.",
		string(models.ErrCategoryUnavailable): "La fonctionnalité demandée est temporairement indisponible, une réponse simplifiée est fournie.",
		string(models.ErrCategoryTimeout):     "La demande a pris trop de temps, une réponse simplifiée est fournie.",
		string(models.ErrCategoryRateLimited): "Le service est occupé pour le moment, une réponse simplifiée est fournie.",
	},
	"de": {
		"default":                            "Einige Funktionen sind vorübergehend eingeschränkt. Hier ist die beste verfügbare Antwort.",
		string(models.ErrCategoryUnavailable): "Die angeforderte Funktion ist vorübergehend nicht verfügbar, daher wird eine vereinfachte Antwort bereitgestellt.",
		string(models.ErrCategoryTimeout):     "Die Anfrage hat zu lange gedauert, daher wird eine vereinfachte Antwort bereitgestellt.",
		string(models.ErrCategoryRateLimited): "Der Dienst ist derzeit ausgelastet, daher wird eine vereinfachte Antwort bereitgestellt.",
	},
	"ru": {
		"default":                            "Некоторые функции временно ограничены. Вот лучший доступный ответ.",
		string(models.ErrCategoryUnavailable): "Запрошенная функция временно недоступна, предоставлен упрощённый ответ.",
		string(models.ErrCategoryTimeout):     "Запрос выполнялся слишком долго, предоставлен упрощённый ответ.",
		string(models.ErrCategoryRateLimited): "Сервис сейчас перегружен, предоставлен упрощённый ответ.",
	},
}

// DegradedMessage returns the user-facing degradation notice for a locale
// and error category, falling back to English and to the generic message.
func DegradedMessage(locale string, category models.ErrorCategory) string {
	table, ok := degradedMessages[locale]
	if !ok {
		table = degradedMessages["en"]
	}
	if msg, ok := table[string(category)]; ok {
		return msg
	}
	return table["default"]
}
