package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func routeAttr(route string) attribute.KeyValue {
	return attribute.String("route", route)
}

func statusAttr(status int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(status))
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}

func layerAttr(layer string) attribute.KeyValue {
	return attribute.String("layer", layer)
}

func stageAttr(stage string) attribute.KeyValue {
	return attribute.String("stage", stage)
}

func tierAttr(tier string) attribute.KeyValue {
	return attribute.String("tier", tier)
}

func credentialAttr(kind string) attribute.KeyValue {
	return attribute.String("credential", kind)
}

func serverAttr(server string) attribute.KeyValue {
	return attribute.String("server", server)
}
