package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// VariantFields 标识一个 (mediaId, kind, format) 变体。
func VariantFields(mediaID, kind, format string) logrus.Fields {
	return logrus.Fields{
		"media_id": mediaID,
		"kind":     kind,
		"format":   format,
	}
}

// RequestFields 提供请求 ID、方法、路径与状态码，供访问日志复用。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
